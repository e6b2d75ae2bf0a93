// Package types defines the shared data structures for the follow-up
// scheduler and the FinDer processing pipeline.
package types

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a scheduled query row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// Service names for the parametric data providers.
const (
	ServiceRRSM = "RRSM"
	ServiceESM  = "ESM"
	ServiceEMSC = "EMSC"
)

// QueryKey identifies one scheduled query row. There is at most one row
// per (event, service, delay bucket).
type QueryKey struct {
	EventID      string
	Service      string
	DelayMinutes int
}

func (k QueryKey) String() string {
	return fmt.Sprintf("%s/%s/t%d", k.EventID, k.Service, k.DelayMinutes)
}

// ScheduledQuery is one follow-up stage for an event/service series.
type ScheduledQuery struct {
	EventID             string
	Service             string
	Status              Status
	OriginTime          time.Time
	LastUpdateTime      time.Time
	LastQueryTime       *time.Time
	NextQueryTime       time.Time
	CurrentDelayMinutes int
	NextDelayMinutes    *int
	RetryCount          int
	LastError           string
	ExpirationTime      time.Time
	Priority            int
	AlertJSON           string
	LastModified        time.Time
}

// Key returns the composite primary key of the row.
func (q *ScheduledQuery) Key() QueryKey {
	return QueryKey{EventID: q.EventID, Service: q.Service, DelayMinutes: q.CurrentDelayMinutes}
}

// IsFinalStage reports whether this row is the last stage of its series.
func (q *ScheduledQuery) IsFinalStage() bool {
	return q.NextDelayMinutes == nil
}

// EventMeta is a ScheduledQuery enriched with fields derived from the
// preserved alert JSON. Region is best-effort; an unparseable alert blob
// leaves it empty.
type EventMeta struct {
	ScheduledQuery
	Region    string
	Magnitude float64
}

// IntPtr is a convenience for optional delay buckets.
func IntPtr(v int) *int { return &v }
