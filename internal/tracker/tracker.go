// Package tracker is the domain facade over the event store. It translates
// scheduler and worker intent (register a series, claim a stage, resolve a
// run) into store operations while preserving the row invariants.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/storage"
	"github.com/seismo-tools/finderd/internal/types"
)

// DefaultExpirationDays bounds how long a series is retained after
// registration.
const DefaultExpirationDays = 5

// ErrNotFound re-exports the store sentinel for callers that only import
// the tracker.
var ErrNotFound = storage.ErrNotFound

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// Tracker wraps a storage.Store with lifecycle semantics.
type Tracker struct {
	store storage.Store
	log   *zap.Logger
	now   func() time.Time
}

// New builds a tracker over the given store.
func New(store storage.Store, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, log: log, now: time.Now}
}

// BatchRegisterFromPolicy creates one pending row per scheduled delay of
// the policy. Stage i carries next_delay = delays[i+1]; the last stage has
// a nil next delay and is the terminal row of the series.
func (t *Tracker) BatchRegisterFromPolicy(ctx context.Context, eventID string, pol policy.Policy,
	originTime, lastUpdateTime time.Time, alertJSON string, expirationDays int) error {

	delays := pol.ScheduleMinutes()
	if len(delays) == 0 {
		t.log.Info("policy has no schedule, nothing to register",
			zap.String("event_id", eventID), zap.String("service", pol.ServiceName()))
		return nil
	}
	if expirationDays <= 0 {
		expirationDays = DefaultExpirationDays
	}

	now := t.now().UTC()
	expiration := now.Add(time.Duration(expirationDays) * 24 * time.Hour)

	for i, delay := range delays {
		var nextDelay *int
		if i+1 < len(delays) {
			nextDelay = types.IntPtr(delays[i+1])
		}
		row := &types.ScheduledQuery{
			EventID:             eventID,
			Service:             pol.ServiceName(),
			Status:              types.StatusPending,
			OriginTime:          originTime.UTC(),
			LastUpdateTime:      lastUpdateTime.UTC(),
			NextQueryTime:       now.Add(time.Duration(delay) * time.Minute),
			CurrentDelayMinutes: delay,
			NextDelayMinutes:    nextDelay,
			ExpirationTime:      expiration,
			Priority:            1,
			AlertJSON:           alertJSON,
		}
		if err := t.store.Add(ctx, row); err != nil {
			return fmt.Errorf("register stage t+%d for %s/%s: %w",
				delay, eventID, pol.ServiceName(), err)
		}
		t.log.Info("registered follow-up stage",
			zap.String("event_id", eventID),
			zap.String("service", pol.ServiceName()),
			zap.Int("delay_minutes", delay))
	}
	return nil
}

// RegisterNewSchedule registers a single stage outside any policy schedule.
func (t *Tracker) RegisterNewSchedule(ctx context.Context, eventID, service string,
	originTime, lastUpdateTime, nextQueryTime time.Time,
	currentDelay int, nextDelay *int, alertJSON string, expirationDays int) error {

	if expirationDays <= 0 {
		expirationDays = DefaultExpirationDays
	}
	row := &types.ScheduledQuery{
		EventID:             eventID,
		Service:             service,
		Status:              types.StatusPending,
		OriginTime:          originTime.UTC(),
		LastUpdateTime:      lastUpdateTime.UTC(),
		NextQueryTime:       nextQueryTime.UTC(),
		CurrentDelayMinutes: currentDelay,
		NextDelayMinutes:    nextDelay,
		ExpirationTime:      t.now().UTC().Add(time.Duration(expirationDays) * 24 * time.Hour),
		Priority:            1,
		AlertJSON:           alertJSON,
	}
	return t.store.Add(ctx, row)
}

// RefreshMetadataAfterEMSCUpdate rewrites the alert-derived metadata on
// every non-terminal row of the (event, service) series. Status, schedule
// and retry counters are never touched.
func (t *Tracker) RefreshMetadataAfterEMSCUpdate(ctx context.Context, eventID, service string,
	newLastUpdateTime time.Time, originTime *time.Time, alertJSON string) error {

	rows, err := t.store.FetchSeries(ctx, eventID, service)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Status == types.StatusCompleted || row.Status == types.StatusIncomplete {
			continue
		}
		fields := map[string]any{
			storage.FieldLastUpdateTime: newLastUpdateTime.UTC(),
		}
		if originTime != nil {
			fields[storage.FieldOriginTime] = originTime.UTC()
		}
		if alertJSON != "" {
			fields[storage.FieldAlertJSON] = alertJSON
		}
		if err := t.store.UpdateFields(ctx, row.Key(), fields); err != nil {
			return fmt.Errorf("refresh metadata for %s: %w", row.Key(), err)
		}
	}
	return nil
}

// MarkAsProcessing claims the row for a worker. Returns false when another
// claimer already owns it.
func (t *Tracker) MarkAsProcessing(ctx context.Context, key types.QueryKey) (bool, error) {
	return t.store.ClaimPending(ctx, key)
}

// MarkCompleted resolves a stage successfully.
func (t *Tracker) MarkCompleted(ctx context.Context, key types.QueryKey) error {
	return t.store.MarkCompleted(ctx, key)
}

// MarkFailed resolves a stage terminally.
func (t *Tracker) MarkFailed(ctx context.Context, key types.QueryKey, errMsg string) error {
	return t.store.MarkFailed(ctx, key, errMsg)
}

// IncrementRetry bumps the retry counter by one.
func (t *Tracker) IncrementRetry(ctx context.Context, key types.QueryKey) error {
	row, err := t.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return t.store.UpdateFields(ctx, key, map[string]any{
		storage.FieldRetryCount: row.RetryCount + 1,
	})
}

// RevertToPending releases a claimed row back to the dispatch queue,
// optionally deferring its next query time and recording the last error.
// Used after a failed run that still has retry budget: no row may remain
// processing without a worker holding it.
func (t *Tracker) RevertToPending(ctx context.Context, key types.QueryKey, deferBy time.Duration, lastError string) error {
	fields := map[string]any{
		storage.FieldStatus: types.StatusPending,
	}
	if lastError != "" {
		fields[storage.FieldLastError] = lastError
	}
	if deferBy > 0 {
		row, err := t.store.Get(ctx, key)
		if err != nil {
			return err
		}
		fields[storage.FieldNextQueryTime] = row.NextQueryTime.Add(deferBy)
	}
	return t.store.UpdateFields(ctx, key, fields)
}

// DeferEvent pushes the stage's next query time forward.
func (t *Tracker) DeferEvent(ctx context.Context, key types.QueryKey, minutes int) error {
	return t.store.Defer(ctx, key, time.Duration(minutes)*time.Minute)
}

// GetEventMeta returns the full row plus region and magnitude parsed from
// the preserved alert JSON. A malformed blob leaves them zero-valued and
// never surfaces an error.
func (t *Tracker) GetEventMeta(ctx context.Context, key types.QueryKey) (*types.EventMeta, error) {
	row, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	meta := &types.EventMeta{ScheduledQuery: *row}
	if row.AlertJSON != "" {
		var props struct {
			Region string          `json:"flynn_region"`
			Mag    json.RawMessage `json:"mag"`
		}
		if err := json.Unmarshal([]byte(row.AlertJSON), &props); err == nil {
			meta.Region = props.Region
			meta.Magnitude = coerceMagnitude(props.Mag)
		} else {
			t.log.Debug("unparseable alert json", zap.String("key", key.String()))
		}
	}
	return meta, nil
}

// FetchDue exposes the store's due-row query to the scheduler.
func (t *Tracker) FetchDue(ctx context.Context, service string) ([]*types.ScheduledQuery, error) {
	return t.store.FetchDue(ctx, service)
}

// CleanupExpired purges rows past their expiration time.
func (t *Tracker) CleanupExpired(ctx context.Context) (int64, error) {
	return t.store.CleanupExpired(ctx)
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
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
