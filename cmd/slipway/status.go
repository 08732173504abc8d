package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slipway/internal/health"
	"slipway/internal/shell"
	"slipway/internal/systemd"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service state and immediate health probe results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		runner := shell.NewExecRunner()

		state, err := (&systemd.Systemctl{Runner: runner}).State(ctx, tgt.Unit)
		if err != nil {
			return err
		}
		fmt.Printf("service %-12s %s\n", tgt.Unit, state)

		// Single-attempt probes; status is a snapshot, not a wait.
		base := tgt.BaseURL()
		checks := []health.Check{
			&health.BodyContains{URL: base + "/health", Token: "healthy"},
			&health.JSONField{URL: base + "/api/wifi", Field: "ssid"},
		}
		poller := &health.Poller{Attempts: 1, Timeout: tgt.Health.Timeout}
		healthy := true
		for _, check := range checks {
			if err := poller.Wait(ctx, check); err != nil {
				fmt.Printf("probe   FAIL  %s\n        %v\n", check, err)
				healthy = false
			} else {
				fmt.Printf("probe   ok    %s\n", check)
			}
		}
		if !healthy || state != systemd.StateRunning {
			return fmt.Errorf("%s is not healthy", tgt.Name)
		}
		return nil
	},
}
