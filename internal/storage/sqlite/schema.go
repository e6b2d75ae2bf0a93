package sqlite

const schema = `
-- Event follow-up tracker. One row per (event, service, delay bucket).
-- All timestamps are stored as ISO-8601 UTC strings with seconds precision.
CREATE TABLE IF NOT EXISTS event_tracker (
    event_id TEXT NOT NULL,
    service TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    origin_time TEXT NOT NULL,
    last_update_time TEXT NOT NULL,
    last_query_time TEXT DEFAULT NULL,
    next_query_time TEXT NOT NULL,
    current_delay_minutes INTEGER NOT NULL DEFAULT 0,
    next_delay_minutes INTEGER DEFAULT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT DEFAULT NULL,
    expiration_time TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 1,
    emsc_alert_json TEXT DEFAULT NULL,
    last_modified TEXT NOT NULL,
    PRIMARY KEY (event_id, service, current_delay_minutes)
);

CREATE INDEX IF NOT EXISTS idx_event_tracker_due
    ON event_tracker(status, next_query_time);
CREATE INDEX IF NOT EXISTS idx_event_tracker_expiry
    ON event_tracker(expiration_time);
`
