package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"slipway/internal/spool"
)

var agentDebounce time.Duration

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Watch the spool directory and deploy on each trigger",
	Long: `Runs until interrupted. Each trigger file dropped into the spool
directory (by the push hook or by slipway trigger) starts one
reconciliation; a burst of triggers collapses into a single run.
Overlapping runs are excluded by the per-target lock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}
		secrets, err := loadSecrets()
		if err != nil {
			return err
		}

		driver, cleanup := buildDriver(tgt, secrets)
		defer cleanup()

		watcher := &spool.Watcher{
			Dir:      tgt.SpoolDir,
			Debounce: agentDebounce,
			Logger:   logger,
			Run: func(ctx context.Context) error {
				_, err := driver.Run(ctx)
				return err
			},
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return watcher.Watch(ctx) })

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			fmt.Println("Agent stopped.")
			return nil
		}
		return err
	},
}

func init() {
	agentCmd.Flags().DurationVar(&agentDebounce, "debounce", 2*time.Second,
		"quiet period after the last trigger before deploying")
}
