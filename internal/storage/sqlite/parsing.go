package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

type scanner interface {
	Scan(dest ...any) error
}

// scanRow reads one event_tracker row in rowColumns order.
func scanRow(sc scanner) (*types.ScheduledQuery, error) {
	var (
		row        types.ScheduledQuery
		status     string
		origin     string
		lastUpdate string
		lastQuery  sql.NullString
		nextQuery  string
		nextDelay  sql.NullInt64
		lastErr    sql.NullString
		expiration string
		alertJSON  sql.NullString
		modified   string
	)
	err := sc.Scan(
		&row.EventID, &row.Service, &status, &origin, &lastUpdate,
		&lastQuery, &nextQuery, &row.CurrentDelayMinutes, &nextDelay,
		&row.RetryCount, &lastErr, &expiration, &row.Priority,
		&alertJSON, &modified,
	)
	if err != nil {
		return nil, err
	}

	row.Status = types.Status(status)
	if row.OriginTime, err = timeutil.Parse(origin); err != nil {
		return nil, fmt.Errorf("row %s: bad origin_time: %w", row.Key(), err)
	}
	if row.LastUpdateTime, err = timeutil.Parse(lastUpdate); err != nil {
		return nil, fmt.Errorf("row %s: bad last_update_time: %w", row.Key(), err)
	}
	if row.NextQueryTime, err = timeutil.Parse(nextQuery); err != nil {
		return nil, fmt.Errorf("row %s: bad next_query_time: %w", row.Key(), err)
	}
	if row.ExpirationTime, err = timeutil.Parse(expiration); err != nil {
		return nil, fmt.Errorf("row %s: bad expiration_time: %w", row.Key(), err)
	}
	if row.LastModified, err = timeutil.Parse(modified); err != nil {
		return nil, fmt.Errorf("row %s: bad last_modified: %w", row.Key(), err)
	}
	if lastQuery.Valid {
		t, err := timeutil.Parse(lastQuery.String)
		if err != nil {
			return nil, fmt.Errorf("row %s: bad last_query_time: %w", row.Key(), err)
		}
		row.LastQueryTime = &t
	}
	if nextDelay.Valid {
		row.NextDelayMinutes = types.IntPtr(int(nextDelay.Int64))
	}
	if lastErr.Valid {
		row.LastError = lastErr.String
	}
	if alertJSON.Valid {
		row.AlertJSON = alertJSON.String
	}
	return &row, nil
}
