package types

import (
	"fmt"
	"strings"
)

// RawStation is the normalized form of a single provider record after
// per-source extraction. PGA is always in cm/s².
type RawStation struct {
	Latitude  float64
	Longitude float64
	Network   string
	Station   string
	Location  string
	Channel   string
	PGA       float64
	Timestamp float64 // origin epoch seconds
	Source    string  // "RRSM" or "ESM"
}

// SNCL returns the dotted network.station.location.channel tuple.
func (s RawStation) SNCL() string {
	return strings.Join([]string{s.Network, s.Station, s.Location, s.Channel}, ".")
}

// HasFullSNCL reports whether all four code fields are populated.
func (s RawStation) HasFullSNCL() bool {
	return s.Network != "" && s.Station != "" && s.Location != "" && s.Channel != ""
}

// FinderEvent is the point-source solution parsed from the engine's
// core_info_0 output.
type FinderEvent struct {
	OriginTimeEpoch int64
	Latitude        float64
	Longitude       float64
	DepthKm         float64
	Magnitude       float64
}

// RupturePoint is one vertex of the rupture polygon.
type RupturePoint struct {
	Latitude  float64
	Longitude float64
	DepthKm   float64
}

// FinderRupture is the ordered rupture polygon, possibly empty.
type FinderRupture struct {
	Points []RupturePoint
}

// AddPoint appends a vertex to the polygon.
func (r *FinderRupture) AddPoint(lat, lon, depth float64) {
	r.Points = append(r.Points, RupturePoint{Latitude: lat, Longitude: lon, DepthKm: depth})
}

// FinderChannel is one station/component contribution to a FinDer run.
type FinderChannel struct {
	Latitude     float64
	Longitude    float64
	Network      string
	Station      string
	Location     string
	Channel      string
	PGA          float64 // cm/s²
	TriggerFlag  int
	IsArtificial bool
}

// SNCL returns the dotted code tuple for the channel.
func (c FinderChannel) SNCL() string {
	return strings.Join([]string{c.Network, c.Station, c.Location, c.Channel}, ".")
}

// ChannelFromSNCL splits a dotted SNCL string into a FinderChannel shell.
func ChannelFromSNCL(sncl string) (FinderChannel, error) {
	parts := strings.Split(strings.TrimSpace(sncl), ".")
	if len(parts) != 4 {
		return FinderChannel{}, fmt.Errorf("malformed SNCL %q", sncl)
	}
	return FinderChannel{
		Network:  parts[0],
		Station:  parts[1],
		Location: parts[2],
		Channel:  parts[3],
	}, nil
}

// FinderSolution composes the engine outputs for one run.
type FinderSolution struct {
	// EventID is the catalog (EMSC) identifier; FinderEventID is the
	// engine's own internal identifier for the run.
	EventID       string
	FinderEventID string
	Event         FinderEvent
	Rupture       FinderRupture
	Channels      []FinderChannel
}

// Description returns a short human-readable summary for logging.
func (s *FinderSolution) Description() string {
	return fmt.Sprintf("event %s (finder id %s): M%.1f at %.4f,%.4f depth %.1f km, %d channels, %d rupture points",
		s.EventID, s.FinderEventID, s.Event.Magnitude, s.Event.Latitude, s.Event.Longitude,
		s.Event.DepthKm, len(s.Channels), len(s.Rupture.Points))
}
