package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run one reconciliation pass against the configured target",
	Long: `Executes the seven deployment steps in order: sync source, write
secrets, place artifacts, install dependencies, validate proxy config,
restart services, verify health. The first fatal step ends the run with
exit code 1. A failed health check is reported but nothing is rolled
back; rollback is the documented manual procedure.`,
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

		out, err := driver.Run(cmd.Context())
		if err != nil {
			logger.Error("deployment failed",
				zap.String("run", out.RunID),
				zap.String("failed_step", string(out.FailedStep)),
				zap.Error(err))
			return err
		}

		fmt.Printf("Deployed %s at %s (run %s)\n", tgt.Name, out.Commit, out.RunID)
		return nil
	},
}
