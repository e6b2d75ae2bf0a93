package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seismo-tools/finderd/internal/client"
	"github.com/seismo-tools/finderd/internal/engine"
	"github.com/seismo-tools/finderd/internal/export"
	"github.com/seismo-tools/finderd/internal/merge"
	"github.com/seismo-tools/finderd/internal/notify"
	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/tracker"
	"github.com/seismo-tools/finderd/internal/types"
)

// retryDeferMinutes is how far a failed stage's next attempt is pushed.
const retryDeferMinutes = 5

// EventWorker runs the follow-up pipeline for one claimed stage: provider
// fan-out, merge, format, engine run, export, notification.
type EventWorker struct {
	tracker  *tracker.Tracker
	rrsm     *client.Client
	esm      *client.Client
	runner   *engine.Runner
	exporter *export.Exporter
	shake    *export.ShakeRunner
	mailer   *notify.Mailer
	log      *zap.Logger

	liveMode     bool
	triggerShake bool
	// runLogPath is attached to failure mail when set.
	runLogPath string
}

// WorkerDeps carries the pipeline collaborators.
type WorkerDeps struct {
	Tracker  *tracker.Tracker
	RRSM     *client.Client
	ESM      *client.Client
	Runner   *engine.Runner
	Exporter *export.Exporter
	Shake    *export.ShakeRunner
	Mailer   *notify.Mailer
	Log      *zap.Logger

	LiveMode     bool
	TriggerShake bool
	RunLogPath   string
}

// NewEventWorker wires the pipeline.
func NewEventWorker(deps WorkerDeps) *EventWorker {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &EventWorker{
		tracker:      deps.Tracker,
		rrsm:         deps.RRSM,
		esm:          deps.ESM,
		runner:       deps.Runner,
		exporter:     deps.Exporter,
		shake:        deps.Shake,
		mailer:       deps.Mailer,
		log:          log,
		liveMode:     deps.LiveMode,
		triggerShake: deps.TriggerShake,
		runLogPath:   deps.RunLogPath,
	}
}

// Process runs one stage end to end and resolves the row accordingly.
// The final stage of a series is marked completed before the run so the
// series terminates even if this process dies mid-pipeline.
func (w *EventWorker) Process(ctx context.Context, meta *types.EventMeta, pol policy.Policy) error {
	key := meta.Key()
	preCompleted := false
	if meta.IsFinalStage() {
		if err := w.tracker.MarkCompleted(ctx, key); err != nil {
			w.log.Error("pre-complete of final stage failed",
				zap.String("key", key.String()), zap.Error(err))
		} else {
			preCompleted = true
		}
	}

	runErr := w.runPipeline(ctx, meta)
	if runErr == nil {
		if !preCompleted {
			if err := w.tracker.MarkCompleted(ctx, key); err != nil {
				return fmt.Errorf("mark %s completed: %w", key, err)
			}
		}
		return nil
	}

	w.log.Warn("pipeline failed",
		zap.String("key", key.String()),
		zap.Error(runErr))
	if err := w.tracker.IncrementRetry(ctx, key); err != nil {
		w.log.Error("retry increment failed", zap.String("key", key.String()), zap.Error(err))
	} else {
		// The retry decision uses the count this failure just produced.
		meta.RetryCount++
	}

	if pol.ShouldRetryOnFailure(&meta.ScheduledQuery) {
		if err := w.tracker.RevertToPending(ctx, key,
			retryDeferMinutes*time.Minute, runErr.Error()); err != nil {
			return fmt.Errorf("revert %s to pending: %w", key, err)
		}
		return runErr
	}

	if err := w.tracker.MarkFailed(ctx, key,
		fmt.Sprintf("retry limit reached: %v", runErr)); err != nil {
		w.log.Error("mark failed errored", zap.String("key", key.String()), zap.Error(err))
	}
	if meta.IsFinalStage() && w.mailer != nil {
		if err := w.mailer.NotifyFailure(meta.EventID, meta.CurrentDelayMinutes,
			runErr, w.runLogPath); err != nil {
			w.log.Error("failure notification failed", zap.Error(err))
		}
	}
	return runErr
}

// runPipeline executes fetch, merge, format, engine, export for one stage.
func (w *EventWorker) runPipeline(ctx context.Context, meta *types.EventMeta) error {
	rrsmRes, esmRes := w.fetchProviders(ctx, meta.EventID)
	if rrsmRes == nil && esmRes == nil {
		return fmt.Errorf("no parametric data from any provider for %s", meta.EventID)
	}

	event := pickEvent(esmRes, rrsmRes)
	if event == nil {
		return fmt.Errorf("providers returned no event metadata for %s", meta.EventID)
	}

	var rrsmStations, esmStations []types.RawStation
	if rrsmRes != nil {
		rrsmStations = rrsmRes.Stations
	}
	if esmRes != nil {
		esmStations = esmRes.Stations
	}
	stations := merge.Stations(rrsmStations, esmStations)
	if len(stations) == 0 {
		return fmt.Errorf("no usable stations for %s after merge", meta.EventID)
	}

	formatted, err := merge.Format(merge.FormatInput{
		EventLatitude:  event.Latitude,
		EventLongitude: event.Longitude,
		EventDepthKm:   event.DepthKm,
		EventMagnitude: event.Magnitude,
		OriginEpoch:    originEpoch(event, meta),
		Stations:       stations,
		LiveMode:       w.liveMode,
	})
	if err != nil {
		return fmt.Errorf("format engine input: %w", err)
	}

	solution, err := w.runner.Run(ctx, meta.EventID, formatted.Data)
	if err != nil {
		return err
	}

	exportDir, err := w.exporter.Export(solution, meta.CurrentDelayMinutes)
	if err != nil {
		return fmt.Errorf("export solution: %w", err)
	}

	if w.triggerShake && w.shake != nil {
		augmented := export.AugmentedID(meta.EventID, meta.CurrentDelayMinutes)
		if err := w.shake.Trigger(ctx, augmented); err != nil {
			return err
		}
		tempData := w.runner.TempDataDir(meta.EventID)
		if _, err := w.shake.ArchiveProducts(tempData, tempData); err != nil {
			w.log.Warn("product archiving failed", zap.Error(err))
		}
	}

	if w.mailer != nil {
		intensity := filepath.Join(exportDir, "intensity.jpg")
		if err := w.mailer.NotifySuccess(solution, meta.CurrentDelayMinutes, intensity); err != nil {
			w.log.Error("success notification failed", zap.Error(err))
		}
	}
	return nil
}

// fetchProviders queries RRSM and ESM concurrently. A provider failure
// drops that contribution; it never fails the other fetch.
func (w *EventWorker) fetchProviders(ctx context.Context, eventID string) (rrsm, esm *client.Result) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := w.rrsm.Query(gctx, client.Options{"eventid": eventID})
		if err != nil {
			w.log.Warn("rrsm fetch failed", zap.String("event_id", eventID), zap.Error(err))
			return nil
		}
		rrsm = res
		return nil
	})
	g.Go(func() error {
		res, err := client.QueryESMEvent(gctx, w.esm, eventID)
		if err != nil {
			w.log.Warn("esm fetch failed", zap.String("event_id", eventID), zap.Error(err))
			return nil
		}
		esm = res
		return nil
	})
	_ = g.Wait()
	return rrsm, esm
}

// pickEvent prefers ESM event metadata, then RRSM.
func pickEvent(candidates ...*client.Result) *client.EventInfo {
	for _, c := range candidates {
		if c != nil && c.Event != nil {
			return c.Event
		}
	}
	return nil
}

// originEpoch prefers the provider origin time, falling back to the
// alert's origin recorded at registration.
func originEpoch(event *client.EventInfo, meta *types.EventMeta) int64 {
	if !event.OriginTime.IsZero() {
		return event.OriginTime.Unix()
	}
	return meta.OriginTime.Unix()
}
