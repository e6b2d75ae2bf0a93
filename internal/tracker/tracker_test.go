package tracker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/storage"
	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

// memStore is an in-memory Store for tracker tests. It mirrors the soft
// duplicate handling of the sqlite store.
type memStore struct {
	rows map[types.QueryKey]*types.ScheduledQuery
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[types.QueryKey]*types.ScheduledQuery)}
}

func (m *memStore) Add(_ context.Context, row *types.ScheduledQuery) error {
	if _, ok := m.rows[row.Key()]; ok {
		return nil
	}
	cp := *row
	m.rows[row.Key()] = &cp
	return nil
}

func (m *memStore) FetchDue(_ context.Context, service string) ([]*types.ScheduledQuery, error) {
	var due []*types.ScheduledQuery
	now := time.Now()
	for _, r := range m.rows {
		if r.Status != types.StatusPending || r.NextQueryTime.After(now) {
			continue
		}
		if service != "" && r.Service != service {
			continue
		}
		cp := *r
		due = append(due, &cp)
	}
	return due, nil
}

func (m *memStore) Get(_ context.Context, key types.QueryKey) (*types.ScheduledQuery, error) {
	r, ok := m.rows[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) FetchSeries(_ context.Context, eventID, service string) ([]*types.ScheduledQuery, error) {
	var series []*types.ScheduledQuery
	for _, r := range m.rows {
		if r.EventID == eventID && r.Service == service {
			cp := *r
			series = append(series, &cp)
		}
	}
	return series, nil
}

func (m *memStore) UpdateFields(_ context.Context, key types.QueryKey, fields map[string]any) error {
	r, ok := m.rows[key]
	if !ok {
		return storage.ErrNotFound
	}
	for name, v := range fields {
		switch name {
		case storage.FieldStatus:
			switch t := v.(type) {
			case types.Status:
				r.Status = t
			case string:
				r.Status = types.Status(t)
			}
		case storage.FieldOriginTime:
			r.OriginTime = asTime(v)
		case storage.FieldLastUpdateTime:
			r.LastUpdateTime = asTime(v)
		case storage.FieldLastQueryTime:
			t := asTime(v)
			r.LastQueryTime = &t
		case storage.FieldNextQueryTime:
			r.NextQueryTime = asTime(v)
		case storage.FieldRetryCount:
			r.RetryCount = v.(int)
		case storage.FieldLastError:
			r.LastError = v.(string)
		case storage.FieldAlertJSON:
			r.AlertJSON = v.(string)
		}
	}
	r.LastModified = time.Now()
	return nil
}

func (m *memStore) ClaimPending(_ context.Context, key types.QueryKey) (bool, error) {
	r, ok := m.rows[key]
	if !ok || r.Status != types.StatusPending {
		return false, nil
	}
	r.Status = types.StatusProcessing
	return true, nil
}

func (m *memStore) MarkCompleted(ctx context.Context, key types.QueryKey) error {
	return m.UpdateFields(ctx, key, map[string]any{
		storage.FieldStatus:        types.StatusCompleted,
		storage.FieldLastQueryTime: time.Now(),
	})
}

func (m *memStore) MarkFailed(ctx context.Context, key types.QueryKey, errMsg string) error {
	return m.UpdateFields(ctx, key, map[string]any{
		storage.FieldStatus:        types.StatusIncomplete,
		storage.FieldLastError:     errMsg,
		storage.FieldLastQueryTime: time.Now(),
	})
}

func (m *memStore) Defer(ctx context.Context, key types.QueryKey, delta time.Duration) error {
	r, ok := m.rows[key]
	if !ok {
		return storage.ErrNotFound
	}
	r.NextQueryTime = r.NextQueryTime.Add(delta)
	return nil
}

func (m *memStore) CleanupExpired(_ context.Context) (int64, error) {
	var n int64
	now := time.Now()
	for k, r := range m.rows {
		if !r.ExpirationTime.After(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := timeutil.Parse(t)
		return parsed
	}
	return time.Time{}
}

func newTestTracker() (*Tracker, *memStore) {
	store := newMemStore()
	return New(store, zap.NewNop()), store
}

func TestBatchRegisterCreatesFullSeries(t *testing.T) {
	tr, store := newTestTracker()
	ctx := context.Background()
	pol := policy.NewRRSMPolicy()
	origin := time.Now().UTC().Add(-time.Minute)

	if err := tr.BatchRegisterFromPolicy(ctx, "ev1", pol, origin, origin, `{"mag":6.5}`, 0); err != nil {
		t.Fatalf("batch register: %v", err)
	}

	delays := pol.ScheduleMinutes()
	if len(store.rows) != len(delays) {
		t.Fatalf("registered %d rows, want %d", len(store.rows), len(delays))
	}

	terminalCount := 0
	for i, delay := range delays {
		key := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: delay}
		row, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("missing stage t+%d", delay)
		}
		if row.Status != types.StatusPending {
			t.Errorf("stage t+%d status = %s", delay, row.Status)
		}
		if row.IsFinalStage() {
			terminalCount++
			continue
		}
		if *row.NextDelayMinutes != delays[i+1] {
			t.Errorf("stage t+%d next delay = %d, want %d", delay, *row.NextDelayMinutes, delays[i+1])
		}
	}
	if terminalCount != 1 {
		t.Fatalf("terminal rows = %d, want exactly 1", terminalCount)
	}
}

func TestBatchRegisterEmptyScheduleIsNoop(t *testing.T) {
	tr, store := newTestTracker()
	pol := policy.DefaultRegistry().Lookup(types.ServiceESM)
	if err := tr.BatchRegisterFromPolicy(context.Background(), "ev1", pol,
		time.Now(), time.Now(), "", 0); err != nil {
		t.Fatalf("register with empty schedule: %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("placeholder policy registered %d rows", len(store.rows))
	}
}

func TestRefreshMetadataSkipsResolvedRows(t *testing.T) {
	tr, store := newTestTracker()
	ctx := context.Background()
	origin := time.Now().UTC().Add(-time.Hour)

	if err := tr.BatchRegisterFromPolicy(ctx, "ev1", policy.NewRRSMPolicy(),
		origin, origin, "", 0); err != nil {
		t.Fatalf("batch register: %v", err)
	}

	doneKey := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: 0}
	if err := store.MarkCompleted(ctx, doneKey); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	newUpdate := time.Now().UTC().Truncate(time.Second)
	if err := tr.RefreshMetadataAfterEMSCUpdate(ctx, "ev1", types.ServiceRRSM,
		newUpdate, nil, `{"mag":7.8}`); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	done, _ := store.Get(ctx, doneKey)
	if done.AlertJSON == `{"mag":7.8}` {
		t.Error("refresh touched a completed row")
	}

	liveKey := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: 5}
	live, _ := store.Get(ctx, liveKey)
	if live.AlertJSON != `{"mag":7.8}` {
		t.Errorf("live row alert json = %q, want refreshed", live.AlertJSON)
	}
	if !live.LastUpdateTime.Equal(newUpdate) {
		t.Errorf("live row last update = %v, want %v", live.LastUpdateTime, newUpdate)
	}
	if live.Status != types.StatusPending {
		t.Errorf("refresh changed status to %s", live.Status)
	}
}

func TestRevertToPendingWithDefer(t *testing.T) {
	tr, store := newTestTracker()
	ctx := context.Background()
	origin := time.Now().UTC().Add(-time.Hour)

	if err := tr.BatchRegisterFromPolicy(ctx, "ev1", policy.NewRRSMPolicy(),
		origin, origin, "", 0); err != nil {
		t.Fatalf("batch register: %v", err)
	}

	key := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: 0}
	claimed, err := tr.MarkAsProcessing(ctx, key)
	if err != nil || !claimed {
		t.Fatalf("claim = (%v, %v)", claimed, err)
	}
	before, _ := store.Get(ctx, key)

	if err := tr.RevertToPending(ctx, key, 5*time.Minute, "rrsm timeout"); err != nil {
		t.Fatalf("revert: %v", err)
	}

	after, _ := store.Get(ctx, key)
	if after.Status != types.StatusPending {
		t.Fatalf("status = %s, want pending", after.Status)
	}
	if after.LastError != "rrsm timeout" {
		t.Errorf("last error = %q", after.LastError)
	}
	want := before.NextQueryTime.Add(5 * time.Minute)
	if !after.NextQueryTime.Equal(want) {
		t.Errorf("next query time = %v, want %v", after.NextQueryTime, want)
	}
}

func TestIncrementRetry(t *testing.T) {
	tr, store := newTestTracker()
	ctx := context.Background()
	origin := time.Now().UTC()

	if err := tr.BatchRegisterFromPolicy(ctx, "ev1", policy.NewRRSMPolicy(),
		origin, origin, "", 0); err != nil {
		t.Fatalf("batch register: %v", err)
	}
	key := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: 0}

	for i := 1; i <= 3; i++ {
		if err := tr.IncrementRetry(ctx, key); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		row, _ := store.Get(ctx, key)
		if row.RetryCount != i {
			t.Fatalf("retry count = %d, want %d", row.RetryCount, i)
		}
	}
}

func TestGetEventMetaParsesAlert(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	origin := time.Now().UTC()

	alert := `{"unid":"ev1","flynn_region":"CENTRAL TURKEY","mag":"7.8"}`
	if err := tr.BatchRegisterFromPolicy(ctx, "ev1", policy.NewRRSMPolicy(),
		origin, origin, alert, 0); err != nil {
		t.Fatalf("batch register: %v", err)
	}

	key := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: 0}
	meta, err := tr.GetEventMeta(ctx, key)
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.Region != "CENTRAL TURKEY" {
		t.Errorf("region = %q", meta.Region)
	}
	if meta.Magnitude != 7.8 {
		t.Errorf("magnitude = %v, want 7.8 (string coercion)", meta.Magnitude)
	}
}

func TestGetEventMetaToleratesBadAlert(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	origin := time.Now().UTC()

	if err := tr.BatchRegisterFromPolicy(ctx, "ev1", policy.NewRRSMPolicy(),
		origin, origin, "{not json", 0); err != nil {
		t.Fatalf("batch register: %v", err)
	}
	key := types.QueryKey{EventID: "ev1", Service: types.ServiceRRSM, DelayMinutes: 0}
	meta, err := tr.GetEventMeta(ctx, key)
	if err != nil {
		t.Fatalf("bad alert json must not error: %v", err)
	}
	if meta.Region != "" || meta.Magnitude != 0 {
		t.Fatalf("bad alert produced region %q magnitude %v", meta.Region, meta.Magnitude)
	}
}
