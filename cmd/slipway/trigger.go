package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slipway/internal/spool"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Enqueue a reconciliation for the running agent",
	Long: `Drops a trigger file into the target's spool directory. The
installed post-receive hook calls this on every push; it also works by
hand when you want a redeploy without a new commit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}
		path, err := spool.Trigger(tgt.SpoolDir)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %s\n", path)
		return nil
	},
}
