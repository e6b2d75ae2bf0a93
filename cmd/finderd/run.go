package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/types"
)

var (
	runEventID   string
	runTest      bool
	runUseLib    bool
	withSeisComp bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the follow-up pipeline once for a single event",
	Long: `Run executes the fetch-merge-engine pipeline immediately for one
event id, bypassing the scheduler. With --test the configured test events
are processed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runEventID == "" && !runTest {
			return fmt.Errorf("either --event-id or --test is required")
		}

		a, err := buildApp(rootCtx, withSeisComp)
		if err != nil {
			return err
		}
		defer a.Close()

		log := a.logs.Module("run")
		if runUseLib {
			// Library bindings are not wired; the executable path covers
			// all runs.
			log.Warn("--use-lib is not supported, falling back to the engine executable")
		}

		ids := []string{runEventID}
		if runTest {
			ids = ids[:0]
			for _, te := range a.cfg.TestEvents {
				ids = append(ids, te.EventID)
			}
			if len(ids) == 0 {
				return fmt.Errorf("--test requested but no test events configured")
			}
		}

		pol := a.registry.Lookup(types.ServiceRRSM)
		for _, id := range ids {
			if err := runOnce(a, pol, id); err != nil {
				return fmt.Errorf("run for %s: %w", id, err)
			}
			log.Info("run finished", zap.String("event_id", id))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runEventID, "event-id", "", "catalog event id to process")
	runCmd.Flags().BoolVar(&runTest, "test", false, "process the configured test events")
	runCmd.Flags().BoolVar(&runUseLib, "use-lib", false, "use engine library bindings instead of the executable (unsupported)")
	runCmd.Flags().BoolVar(&withSeisComp, "with-seiscomp", false, "trigger the shake command after the engine run")
}

// runOnce registers a transient single-stage schedule for the event and
// processes it immediately through the normal worker path, so manual runs
// and scheduled runs share one pipeline.
func runOnce(a *app, pol policy.Policy, eventID string) error {
	now := time.Now().UTC()
	if err := a.tracker.RegisterNewSchedule(rootCtx, eventID, pol.ServiceName(),
		now, now, now, 0, nil, "", 1); err != nil {
		return err
	}

	key := types.QueryKey{EventID: eventID, Service: pol.ServiceName(), DelayMinutes: 0}
	if _, err := a.tracker.MarkAsProcessing(rootCtx, key); err != nil {
		return err
	}
	meta, err := a.tracker.GetEventMeta(rootCtx, key)
	if err != nil {
		return err
	}
	return a.worker.Process(rootCtx, meta, pol)
}
