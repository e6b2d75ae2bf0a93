// finderd produces ShakeMaps for earthquakes by following up parametric
// data services on a fixed schedule and feeding the merged peak motions
// to the FinDer engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbosity  string
	logFile    string

	// Signal-aware context for graceful shutdown.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "finderd",
	Short: "Automated FinDer shake-map production pipeline",
	Long: `finderd listens for earthquake alerts, schedules follow-up queries
against the RRSM and ESM parametric data services, and runs the FinDer
engine on the merged peak motions to produce ShakeMap inputs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to finderd.yaml")
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write all logs to this one file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
