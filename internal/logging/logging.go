// Package logging builds the per-module zap loggers used across the
// pipeline. Loggers are constructed once at the composition root and passed
// down explicitly; there is no package-level logger state.
package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall back
	// to info.
	Level string
	// Dir is where per-module log files are written. Empty disables file
	// output (console only).
	Dir string
	// File, when set, routes every module to this one file instead of
	// per-module files under Dir.
	File string
	// Console enables the stderr sink in addition to the file sink.
	Console bool
	// MaxSizeMB and MaxBackups bound file rotation.
	MaxSizeMB  int
	MaxBackups int
}

// DefaultConfig matches the documented rotation bounds: ~1 MB per file,
// 7 backups.
func DefaultConfig(dir string) Config {
	return Config{
		Level:      "info",
		Dir:        dir,
		Console:    true,
		MaxSizeMB:  1,
		MaxBackups: 7,
	}
}

// Factory hands out named module loggers sharing one configuration.
type Factory struct {
	cfg   Config
	level zapcore.Level
}

// NewFactory validates the config and returns a logger factory.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 1
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, err
		}
	} else if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, err
		}
	}
	return &Factory{cfg: cfg, level: parseLevel(cfg.Level)}, nil
}

// Module returns a named logger writing to <dir>/<module>.log with
// rotation, plus stderr when console output is enabled.
func (f *Factory) Module(name string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if f.cfg.File != "" || f.cfg.Dir != "" {
		filename := f.cfg.File
		if filename == "" {
			filename = filepath.Join(f.cfg.Dir, strings.ToLower(name)+".log")
		}
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    f.cfg.MaxSizeMB,
			MaxBackups: f.cfg.MaxBackups,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, f.level))
	}
	if f.cfg.Console || len(cores) == 0 {
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEnc), zapcore.AddSync(os.Stderr), f.level))
	}
	return zap.New(zapcore.NewTee(cores...)).Named(name)
}

// Nop returns a discard-all logger for tests.
func Nop() *zap.Logger { return zap.NewNop() }

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
