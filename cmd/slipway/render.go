package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slipway/internal/config"
	"slipway/internal/envfile"
	"slipway/internal/nginx"
	"slipway/internal/systemd"
)

var renderCmd = &cobra.Command{
	Use:   "render {envfile|site|bootstrap-site|unit}",
	Short: "Print a rendered config to stdout without touching the host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}

		var out []byte
		switch args[0] {
		case "envfile":
			// Secret values stay out of the terminal.
			out, err = envfile.Render(envfile.ForDeployment(tgt, config.Secrets{
				OpenAIKey:   "<redacted>",
				OpenAIModel: tgt.Model,
			}))
		case "site":
			out, err = nginx.RenderSite(siteData(tgt))
		case "bootstrap-site":
			out, err = nginx.RenderBootstrapSite(siteData(tgt))
		case "unit":
			out, err = systemd.RenderUnit(systemd.UnitData{
				Description:      fmt.Sprintf("%s application service", tgt.Name),
				User:             tgt.RunAs,
				WorkingDirectory: tgt.AppDir,
				EnvironmentFile:  tgt.EnvFile(),
				Port:             tgt.AppPort,
				Workers:          tgt.Workers,
				WritablePaths:    []string{tgt.AppDir, tgt.ImageDir, tgt.LogDir},
			})
		default:
			return fmt.Errorf("unknown config %q", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func siteData(tgt *config.Target) nginx.SiteData {
	return nginx.SiteData{
		Site:    tgt.Site,
		Zone:    tgt.Zone(),
		Domain:  tgt.Domain,
		Port:    tgt.AppPort,
		Webroot: tgt.WebrootDir,
	}
}
