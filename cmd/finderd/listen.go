package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seismo-tools/finderd/internal/ingress"
	"github.com/seismo-tools/finderd/internal/scheduler"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for alerts and schedule follow-ups",
	Long: `Listen connects to the alert feed, registers follow-up schedules
for accepted events, and runs the scheduler loop that dispatches due
stages to workers. This is the normal service mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(rootCtx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		listener := ingress.NewListener(a.cfg.Listener.URL, a.handler, a.logs.Module("listener"))
		loop := scheduler.New(scheduler.Options{
			PollInterval:    a.cfg.Scheduler.PollInterval,
			PoolSize:        a.cfg.Scheduler.PoolSize,
			CleanupInterval: a.cfg.Scheduler.CleanupInterval,
		}, a.tracker, a.registry, a.worker, a.logs.Module("scheduler"))

		g, ctx := errgroup.WithContext(rootCtx)
		g.Go(func() error { return listener.Run(ctx) })
		g.Go(func() error { return loop.Run(ctx) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
