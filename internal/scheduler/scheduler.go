// Package scheduler hosts the polling control loop and the event worker.
// The loop claims due rows and hands them to a bounded pool; workers run
// the full follow-up pipeline for one stage.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/tracker"
	"github.com/seismo-tools/finderd/internal/types"
)

const (
	// DefaultPollInterval is the control loop tick.
	DefaultPollInterval = 10 * time.Second
	// DefaultPoolSize bounds concurrently running workers.
	DefaultPoolSize = 10
	// DefaultCleanupInterval spaces the expired-row sweeps.
	DefaultCleanupInterval = time.Hour
)

// Worker processes one claimed stage.
type Worker interface {
	Process(ctx context.Context, meta *types.EventMeta, pol policy.Policy) error
}

// Options tunes the control loop.
type Options struct {
	PollInterval    time.Duration
	PoolSize        int64
	CleanupInterval time.Duration
	// Service restricts dispatch to one service; empty dispatches all.
	Service string
}

// Loop is the scheduler control loop.
type Loop struct {
	opts    Options
	tracker *tracker.Tracker
	reg     policy.Registry
	worker  Worker
	pool    *semaphore.Weighted
	log     *zap.Logger
}

// New builds a loop. Zero option fields take the package defaults.
func New(opts Options, tr *tracker.Tracker, reg policy.Registry, worker Worker, log *zap.Logger) *Loop {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		opts:    opts,
		tracker: tr,
		reg:     reg,
		worker:  worker,
		pool:    semaphore.NewWeighted(opts.PoolSize),
		log:     log,
	}
}

// Run polls until the context is cancelled. The loop itself never blocks
// on a worker: when the pool is full the claim is released and the row
// waits for a later tick.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("scheduler started",
		zap.Duration("poll_interval", l.opts.PollInterval),
		zap.Int64("pool_size", l.opts.PoolSize))

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(l.opts.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("scheduler stopping")
			return ctx.Err()
		case <-cleanup.C:
			l.sweep(ctx)
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick claims and dispatches every due row it can.
func (l *Loop) tick(ctx context.Context) {
	rows, err := l.tracker.FetchDue(ctx, l.opts.Service)
	if err != nil {
		l.log.Error("fetch due rows failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		l.dispatch(ctx, row)
	}
}

func (l *Loop) dispatch(ctx context.Context, row *types.ScheduledQuery) {
	key := row.Key()
	pol := l.reg.Lookup(row.Service)
	if pol == nil {
		l.log.Warn("no policy for service, skipping row",
			zap.String("key", key.String()))
		return
	}

	claimed, err := l.tracker.MarkAsProcessing(ctx, key)
	if err != nil {
		l.log.Error("claim failed", zap.String("key", key.String()), zap.Error(err))
		return
	}
	if !claimed {
		// Another poller got here first.
		return
	}

	meta, err := l.tracker.GetEventMeta(ctx, key)
	if err != nil {
		l.log.Error("read claimed row failed", zap.String("key", key.String()), zap.Error(err))
		l.release(ctx, key, "metadata read failed")
		return
	}

	if !l.pool.TryAcquire(1) {
		// Pool is full this tick; give the claim back so the row stays
		// dispatchable next cycle.
		l.log.Debug("worker pool full, releasing claim",
			zap.String("key", key.String()))
		l.release(ctx, key, "")
		return
	}

	go func() {
		defer l.pool.Release(1)
		if err := l.worker.Process(ctx, meta, pol); err != nil {
			l.log.Warn("worker finished with error",
				zap.String("key", key.String()),
				zap.Error(err))
		}
	}()
}

func (l *Loop) release(ctx context.Context, key types.QueryKey, reason string) {
	if err := l.tracker.RevertToPending(ctx, key, 0, reason); err != nil {
		l.log.Error("release claim failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (l *Loop) sweep(ctx context.Context) {
	n, err := l.tracker.CleanupExpired(ctx)
	if err != nil {
		l.log.Error("expired-row sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		l.log.Info("purged expired rows", zap.Int64("count", n))
	}
}
