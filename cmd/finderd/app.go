package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/client"
	"github.com/seismo-tools/finderd/internal/config"
	"github.com/seismo-tools/finderd/internal/engine"
	"github.com/seismo-tools/finderd/internal/export"
	"github.com/seismo-tools/finderd/internal/ingress"
	"github.com/seismo-tools/finderd/internal/logging"
	"github.com/seismo-tools/finderd/internal/notify"
	"github.com/seismo-tools/finderd/internal/policy"
	"github.com/seismo-tools/finderd/internal/scheduler"
	"github.com/seismo-tools/finderd/internal/storage/sqlite"
	"github.com/seismo-tools/finderd/internal/tracker"
)

// app is the composition root: every long-lived collaborator wired once
// from configuration.
type app struct {
	cfg      *config.Config
	logs     *logging.Factory
	tracker  *tracker.Tracker
	registry policy.Registry
	worker   *scheduler.EventWorker
	handler  *ingress.Handler
}

// buildApp wires the full pipeline. The store is opened here and closed
// by app.Close.
func buildApp(ctx context.Context, withSeisComp bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:      verbosity,
		Dir:        cfg.Logging.Dir,
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	if logFile != "" {
		logCfg.File = logFile
	}
	logs, err := logging.NewFactory(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := sqlite.Open(ctx, cfg.Store.Path, logs.Module("store"))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	tr := tracker.New(store, logs.Module("tracker"))
	registry := policy.DefaultRegistry()

	rrsm := client.NewRRSMPeakMotionClient(cfg.Providers.RRSMBaseURL, logs.Module("rrsm"))
	esm := client.NewESMShakeMapClient(cfg.Providers.ESMBaseURL, logs.Module("esm"))

	runner := engine.New(engine.Options{
		BinaryPath:  cfg.Engine.BinaryPath,
		OutputRoot:  cfg.Engine.OutputRoot,
		ResourceDir: cfg.Engine.ResourceDir,
		GMTDir:      cfg.Engine.GMTDir,
		LiveMode:    cfg.Engine.LiveMode,
	}, logs.Module("engine"))

	exporter := export.New(cfg.ShakeMap.ExportRoot, logs.Module("export"))
	shake := export.NewShakeRunner(cfg.ShakeMap.Command, logs.Module("shake"))

	mailer := notify.New(notify.Config{
		Host:       cfg.Mail.Host,
		Port:       cfg.Mail.Port,
		Username:   cfg.Mail.Username,
		Password:   cfg.Mail.Password,
		From:       cfg.Mail.From,
		Recipients: cfg.Mail.Recipients,
		UseTLS:     cfg.Mail.UseTLS,
	}, logs.Module("notify"))

	worker := scheduler.NewEventWorker(scheduler.WorkerDeps{
		Tracker:      tr,
		RRSM:         rrsm,
		ESM:          esm,
		Runner:       runner,
		Exporter:     exporter,
		Shake:        shake,
		Mailer:       mailer,
		Log:          logs.Module("worker"),
		LiveMode:     cfg.Engine.LiveMode,
		TriggerShake: cfg.ShakeMap.Enabled || withSeisComp,
	})

	handler := ingress.NewHandler(ingress.Config{
		TargetRegions:  cfg.Listener.TargetRegions,
		MinMagnitude:   cfg.Listener.MinMagnitude,
		ExpirationDays: cfg.Listener.ExpirationDays,
	}, tr, registry, logs.Module("ingress"))

	return &app{
		cfg:      cfg,
		logs:     logs,
		tracker:  tr,
		registry: registry,
		worker:   worker,
		handler:  handler,
	}, nil
}

func (a *app) Close() {
	if err := a.tracker.Close(); err != nil {
		a.logs.Module("main").Warn("store close failed", zap.Error(err))
	}
}
