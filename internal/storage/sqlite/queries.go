package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/storage"
	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

const rowColumns = `event_id, service, status, origin_time, last_update_time,
	last_query_time, next_query_time, current_delay_minutes, next_delay_minutes,
	retry_count, last_error, expiration_time, priority, emsc_alert_json, last_modified`

// Add inserts a row. A duplicate composite key is logged and swallowed.
func (s *Store) Add(ctx context.Context, row *types.ScheduledQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeutil.Format(time.Now())
	var lastQuery any
	if row.LastQueryTime != nil {
		lastQuery = timeutil.Format(*row.LastQueryTime)
	}
	var nextDelay any
	if row.NextDelayMinutes != nil {
		nextDelay = *row.NextDelayMinutes
	}
	var lastErr any
	if row.LastError != "" {
		lastErr = row.LastError
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_tracker (
			event_id, service, status, origin_time, last_update_time,
			last_query_time, next_query_time, current_delay_minutes,
			next_delay_minutes, retry_count, last_error, expiration_time,
			priority, emsc_alert_json, last_modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, row.Service, string(row.Status),
		timeutil.Format(row.OriginTime), timeutil.Format(row.LastUpdateTime),
		lastQuery, timeutil.Format(row.NextQueryTime), row.CurrentDelayMinutes,
		nextDelay, row.RetryCount, lastErr, timeutil.Format(row.ExpirationTime),
		row.Priority, nullIfEmpty(row.AlertJSON), now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			s.log.Warn("suppressed duplicate schedule insert",
				zap.String("event_id", row.EventID),
				zap.String("service", row.Service),
				zap.Int("delay_minutes", row.CurrentDelayMinutes))
			return nil
		}
		return fmt.Errorf("insert schedule row %s: %w", row.Key(), err)
	}
	return nil
}

// FetchDue returns pending rows whose next_query_time has elapsed, ordered
// by priority (desc), next_query_time (asc), then insertion order.
func (s *Store) FetchDue(ctx context.Context, service string) ([]*types.ScheduledQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + rowColumns + `
		FROM event_tracker
		WHERE status = ? AND next_query_time <= ?`
	args := []any{string(types.StatusPending), timeutil.Format(time.Now())}
	if service != "" {
		query += ` AND service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY priority DESC, next_query_time ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch due rows: %w", err)
	}
	defer rows.Close()

	var due []*types.ScheduledQuery
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, row)
	}
	return due, rows.Err()
}

// Get is a point lookup; storage.ErrNotFound when the key is absent.
func (s *Store) Get(ctx context.Context, key types.QueryKey) (*types.ScheduledQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.db.QueryRowContext(ctx, `SELECT `+rowColumns+`
		FROM event_tracker
		WHERE event_id = ? AND service = ? AND current_delay_minutes = ?`,
		key.EventID, key.Service, key.DelayMinutes)
	row, err := scanRow(r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return row, err
}

// FetchSeries returns all rows of an (event, service) series ordered by
// delay bucket.
func (s *Store) FetchSeries(ctx context.Context, eventID, service string) ([]*types.ScheduledQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+rowColumns+`
		FROM event_tracker
		WHERE event_id = ? AND service = ?
		ORDER BY current_delay_minutes ASC`, eventID, service)
	if err != nil {
		return nil, fmt.Errorf("fetch series %s/%s: %w", eventID, service, err)
	}
	defer rows.Close()

	var series []*types.ScheduledQuery
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		series = append(series, row)
	}
	return series, rows.Err()
}

// UpdateFields applies an atomic partial update. Field names must be the
// storage.Field* constants; an empty set is a no-op.
func (s *Store) UpdateFields(ctx context.Context, key types.QueryKey, fields map[string]any) error {
	if len(fields) == 0 {
		s.log.Warn("field update skipped: empty field set",
			zap.String("key", key.String()))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deterministic column order keeps the statement stable for tests.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	set := ""
	args := make([]any, 0, len(fields)+4)
	for _, name := range names {
		if set != "" {
			set += ", "
		}
		set += name + " = ?"
		args = append(args, normalizeValue(fields[name]))
	}
	set += ", last_modified = ?"
	args = append(args, timeutil.Format(time.Now()))
	args = append(args, key.EventID, key.Service, key.DelayMinutes)

	_, err := s.db.ExecContext(ctx, `UPDATE event_tracker SET `+set+`
		WHERE event_id = ? AND service = ? AND current_delay_minutes = ?`, args...)
	if err != nil {
		return fmt.Errorf("update fields for %s: %w", key, err)
	}
	return nil
}

// ClaimPending transitions pending→processing. The compare-and-set on the
// status column makes the claim linearizable: if two pollers race, exactly
// one sees a positive row count.
func (s *Store) ClaimPending(ctx context.Context, key types.QueryKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE event_tracker
		SET status = ?, last_modified = ?
		WHERE event_id = ? AND service = ? AND current_delay_minutes = ?
		  AND status = ?`,
		string(types.StatusProcessing), timeutil.Format(time.Now()),
		key.EventID, key.Service, key.DelayMinutes,
		string(types.StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkCompleted finalizes a row and stamps the query time.
func (s *Store) MarkCompleted(ctx context.Context, key types.QueryKey) error {
	return s.UpdateFields(ctx, key, map[string]any{
		storage.FieldStatus:        string(types.StatusCompleted),
		storage.FieldLastQueryTime: timeutil.Format(time.Now()),
	})
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, key types.QueryKey, errMsg string) error {
	return s.UpdateFields(ctx, key, map[string]any{
		storage.FieldStatus:        string(types.StatusIncomplete),
		storage.FieldLastError:     errMsg,
		storage.FieldLastQueryTime: timeutil.Format(time.Now()),
	})
}

// Defer pushes next_query_time forward by delta.
func (s *Store) Defer(ctx context.Context, key types.QueryKey, delta time.Duration) error {
	row, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return s.UpdateFields(ctx, key, map[string]any{
		storage.FieldNextQueryTime: timeutil.Format(row.NextQueryTime.Add(delta)),
	})
}

// CleanupExpired removes rows past their expiration time, regardless of
// status.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM event_tracker WHERE expiration_time <= ?`,
		timeutil.Format(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired rows: %w", err)
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeValue converts domain values to their wire representation.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return timeutil.Format(t)
	case types.Status:
		return string(t)
	case *int:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}
