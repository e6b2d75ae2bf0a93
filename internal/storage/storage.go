// Package storage defines the persistence contract for scheduled query
// rows. The only production implementation is the SQLite store in the
// sqlite subpackage; tests may substitute their own.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/seismo-tools/finderd/internal/types"
)

// ErrNotFound indicates a point lookup missed.
var ErrNotFound = errors.New("not found")

// Column names accepted by UpdateFields.
const (
	FieldStatus         = "status"
	FieldOriginTime     = "origin_time"
	FieldLastUpdateTime = "last_update_time"
	FieldLastQueryTime  = "last_query_time"
	FieldNextQueryTime  = "next_query_time"
	FieldRetryCount     = "retry_count"
	FieldLastError      = "last_error"
	FieldExpirationTime = "expiration_time"
	FieldPriority       = "priority"
	FieldAlertJSON      = "emsc_alert_json"
)

// Store is the durable event-tracker table. All logical operations are
// serialized by the implementation; callers never need external locking.
type Store interface {
	// Add inserts a new row. A duplicate composite key is a soft failure:
	// it is logged and skipped, never returned as an error.
	Add(ctx context.Context, row *types.ScheduledQuery) error

	// FetchDue returns every pending row whose next_query_time has
	// elapsed, ordered by (priority desc, next_query_time asc, insertion
	// order). An empty service matches all services.
	FetchDue(ctx context.Context, service string) ([]*types.ScheduledQuery, error)

	// Get is a point lookup by composite key.
	Get(ctx context.Context, key types.QueryKey) (*types.ScheduledQuery, error)

	// FetchSeries returns every row of one (event, service) series,
	// ordered by delay bucket.
	FetchSeries(ctx context.Context, eventID, service string) ([]*types.ScheduledQuery, error)

	// UpdateFields applies an atomic partial update. An empty field set is
	// silently ignored.
	UpdateFields(ctx context.Context, key types.QueryKey, fields map[string]any) error

	// ClaimPending transitions the row pending→processing iff it is still
	// pending. Returns false when another claimer won the race.
	ClaimPending(ctx context.Context, key types.QueryKey) (bool, error)

	// MarkCompleted sets status=completed and stamps last_query_time.
	MarkCompleted(ctx context.Context, key types.QueryKey) error

	// MarkFailed sets status=incomplete, records the error, and stamps
	// last_query_time.
	MarkFailed(ctx context.Context, key types.QueryKey, errMsg string) error

	// Defer pushes next_query_time forward by delta.
	Defer(ctx context.Context, key types.QueryKey, delta time.Duration) error

	// CleanupExpired deletes every row whose expiration_time has passed,
	// returning the number removed.
	CleanupExpired(ctx context.Context) (int64, error)

	Close() error
}
