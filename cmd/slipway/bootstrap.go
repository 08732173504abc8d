package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"slipway/internal/provision"
	"slipway/internal/shell"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "First-time host setup for the configured target",
	Long: `Provisions a bare host: run-as user, directory tree, systemd unit,
push-to-deploy hook, TLS certificate, and the final proxy config. Every
mutation is guarded by an idempotent check, so re-running on an already
provisioned host is safe.

The proxy is first stood up on plain HTTP so the certificate issuer's
domain-ownership challenge can succeed; only then is the TLS site
activated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}

		trigger := ""
		if exe, err := os.Executable(); err == nil {
			trigger = fmt.Sprintf("%s trigger --config %s", exe, configPath)
		}

		b := &provision.Bootstrapper{
			Target:         tgt,
			Runner:         shell.NewExecRunner(),
			Logger:         logger,
			TriggerCommand: trigger,
		}
		if err := b.Run(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Host provisioned for %s. Run `slipway deploy` to ship.\n", tgt.Name)
		return nil
	},
}
