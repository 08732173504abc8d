package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"slipway/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent deployment runs, or show one run step by step",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}
		j, err := journal.Open(tgt.JournalPath())
		if err != nil {
			return err
		}
		defer j.Close()
		ctx := cmd.Context()

		if len(args) == 1 {
			run, err := j.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("run      %s\ntarget   %s\nbranch   %s\ncommit   %s\nstate    %s\n",
				run.ID, run.Target, run.Branch, run.Commit, run.State)
			if run.FailureStep != "" {
				fmt.Printf("failed   %s: %s\n", run.FailureStep, run.FailureReason)
			}
			steps, err := j.RunSteps(ctx, run.ID)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, s := range steps {
				fmt.Printf("  %-22s %-10s %s\n", s.Name, s.State, s.Detail)
			}
			return nil
		}

		runs, err := j.RecentRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		for _, r := range runs {
			commit := r.Commit
			if len(commit) > 8 {
				commit = commit[:8]
			}
			fmt.Printf("%s  %-10s %-8s %-20s %s\n",
				r.ID, r.State, commit,
				r.StartedAt.Local().Format(time.DateTime),
				failureSummary(r))
		}
		return nil
	},
}

func failureSummary(r journal.Run) string {
	if r.FailureStep == "" {
		return ""
	}
	return fmt.Sprintf("failed at %s", r.FailureStep)
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "how many runs to list")
}
