// slipway reconciles a single host toward its deployed state: latest
// committed code, running service, valid TLS certificate. One binary
// carries the reconciliation driver, the first-time bootstrapper, and the
// push-to-deploy wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slipway/internal/config"
	"slipway/internal/diag"
	"slipway/internal/journal"
	"slipway/internal/logging"
	"slipway/internal/reconcile"
	"slipway/internal/shell"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Single-host deployment reconciler",
	Long: `slipway drives one host toward its desired state: latest committed
code checked out, secrets materialized, dependencies installed, proxy
config validated and active, service restarted, health verified.

Each invocation is one pass over the same ordered, idempotent steps, so
re-running after a partial failure is always safe.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"/etc/slipway/slipway.yaml", "target manifest path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v",
		false, "enable debug logging")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(renderCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadTarget reads and validates the target manifest.
func loadTarget() (*config.Target, error) {
	tgt, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := tgt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	return tgt, nil
}

// buildDriver assembles a driver against the real host. The journal is
// best-effort: a target whose state dir cannot hold one still deploys.
// The caller owns the returned cleanup.
func buildDriver(tgt *config.Target, secrets config.Secrets) (*reconcile.Driver, func()) {
	runner := shell.NewExecRunner()
	d := &reconcile.Driver{
		Target:      tgt,
		Secrets:     secrets,
		Runner:      runner,
		Logger:      logger,
		Diagnostics: &diag.Collector{Runner: runner, Logger: logger},
	}

	cleanup := func() {}
	if err := os.MkdirAll(tgt.StateDir, 0o755); err != nil {
		logger.Warn("state dir unavailable, deploying without journal", zap.Error(err))
		return d, cleanup
	}
	j, err := journal.Open(tgt.JournalPath())
	if err != nil {
		logger.Warn("journal unavailable, deploying without history", zap.Error(err))
		return d, cleanup
	}
	d.Recorder = j
	return d, func() { _ = j.Close() }
}

// loadSecrets parses and validates the secret bundle from process
// environment. This is the single place slipway reads ambient state.
func loadSecrets() (config.Secrets, error) {
	secrets, err := config.LoadSecrets()
	if err != nil {
		return config.Secrets{}, err
	}
	if err := secrets.Validate(); err != nil {
		return config.Secrets{}, err
	}
	return secrets, nil
}
