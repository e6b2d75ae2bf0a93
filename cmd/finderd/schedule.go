package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/seismo-tools/finderd/internal/scheduler"
)

var scheduleService string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the scheduler loop without the alert listener",
	Long: `Schedule dispatches already-registered follow-up stages as they
come due. Useful when alerts are ingested by a separate process sharing
the same store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(rootCtx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		loop := scheduler.New(scheduler.Options{
			PollInterval:    a.cfg.Scheduler.PollInterval,
			PoolSize:        a.cfg.Scheduler.PoolSize,
			CleanupInterval: a.cfg.Scheduler.CleanupInterval,
			Service:         scheduleService,
		}, a.tracker, a.registry, a.worker, a.logs.Module("scheduler"))

		if err := loop.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleService, "service", "", "restrict dispatch to one service (RRSM, ESM, EMSC)")
}
