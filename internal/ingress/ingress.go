// Package ingress consumes earthquake alert records and turns them into
// follow-up schedules. It owns no event state: a create registers the
// policy's full stage series through the tracker, an update refreshes the
// metadata of the live rows.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/tracker"
)

// Alert actions from the upstream feed.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// Alert is one normalized alert record. Unknown feed fields are ignored
// at decode time but the raw JSON is preserved for the store.
type Alert struct {
	EventID        string
	OriginTime     time.Time
	LastUpdateTime time.Time
	Action         string
	Magnitude      float64
	Region         string
	RawJSON        string
}

// alertWire matches the SeismicPortal property set. Magnitude arrives as
// a number or a quoted string depending on the feed revision.
type alertWire struct {
	UnID        string          `json:"unid"`
	Time        string          `json:"time"`
	LastUpdate  string          `json:"lastupdate"`
	Action      string          `json:"action"`
	Mag         json.RawMessage `json:"mag"`
	FlynnRegion string          `json:"flynn_region"`
}

// ParseAlert decodes one alert record. The action may live in the record
// itself or be supplied by the enclosing envelope.
func ParseAlert(data []byte, envelopeAction string) (*Alert, error) {
	var w alertWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	if w.UnID == "" {
		return nil, fmt.Errorf("alert has no unid")
	}

	action := w.Action
	if action == "" {
		action = envelopeAction
	}
	switch action {
	case ActionCreate, ActionUpdate:
	default:
		return nil, fmt.Errorf("unknown alert action %q", action)
	}

	originTime, err := timeutil.Parse(w.Time)
	if err != nil {
		return nil, fmt.Errorf("alert origin time: %w", err)
	}
	lastUpdate, err := timeutil.Parse(w.LastUpdate)
	if err != nil {
		lastUpdate = originTime
	}

	return &Alert{
		EventID:        w.UnID,
		OriginTime:     originTime,
		LastUpdateTime: lastUpdate,
		Action:         action,
		Magnitude:      coerceMagnitude(w.Mag),
		Region:         w.FlynnRegion,
		RawJSON:        string(data),
	}, nil
}

// Config filters which alerts become schedules.
type Config struct {
	// TargetRegions is a list of case-insensitive substrings matched
	// against the alert region. "world" or "all" anywhere in the list, or
	// an empty list, disables the filter.
	TargetRegions []string
	MinMagnitude  float64
	// ExpirationDays bounds row retention; zero selects the tracker
	// default.
	ExpirationDays int
}

// Handler routes accepted alerts into the tracker.
type Handler struct {
	cfg      Config
	tracker  *tracker.Tracker
	registry policy.Registry
	log      *zap.Logger
}

// NewHandler builds an alert handler over the tracker and policy registry.
func NewHandler(cfg Config, tr *tracker.Tracker, reg policy.Registry, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{cfg: cfg, tracker: tr, registry: reg, log: log}
}

// Handle applies the region and magnitude filters, then registers or
// refreshes schedules for every service in the registry. Filtered alerts
// return nil.
func (h *Handler) Handle(ctx context.Context, alert *Alert) error {
	if !h.accept(alert) {
		return nil
	}

	for _, pol := range h.registry {
		if len(pol.ScheduleMinutes()) == 0 {
			continue
		}
		var err error
		switch alert.Action {
		case ActionCreate:
			err = h.tracker.BatchRegisterFromPolicy(ctx, alert.EventID, pol,
				alert.OriginTime, alert.LastUpdateTime, alert.RawJSON, h.cfg.ExpirationDays)
		case ActionUpdate:
			origin := alert.OriginTime
			err = h.tracker.RefreshMetadataAfterEMSCUpdate(ctx, alert.EventID, pol.ServiceName(),
				alert.LastUpdateTime, &origin, alert.RawJSON)
		}
		if err != nil {
			return fmt.Errorf("%s alert for %s/%s: %w",
				alert.Action, alert.EventID, pol.ServiceName(), err)
		}
	}

	h.log.Info("alert handled",
		zap.String("event_id", alert.EventID),
		zap.String("action", alert.Action),
		zap.Float64("magnitude", alert.Magnitude),
		zap.String("region", alert.Region))
	return nil
}

// accept applies the configured filters.
func (h *Handler) accept(alert *Alert) bool {
	if alert.Magnitude < h.cfg.MinMagnitude {
		h.log.Debug("alert below magnitude threshold",
			zap.String("event_id", alert.EventID),
			zap.Float64("magnitude", alert.Magnitude),
			zap.Float64("min", h.cfg.MinMagnitude))
		return false
	}
	if !regionMatches(h.cfg.TargetRegions, alert.Region) {
		h.log.Debug("alert outside target regions",
			zap.String("event_id", alert.EventID),
			zap.String("region", alert.Region))
		return false
	}
	return true
}

func regionMatches(targets []string, region string) bool {
	if len(targets) == 0 {
		return true
	}
	lower := strings.ToLower(region)
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "world" || t == "all" {
			return true
		}
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func coerceMagnitude(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
