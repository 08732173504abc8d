// Package diag collects context around a failed deployment: recent service
// logs, installed tool versions, and a host snapshot. Collection is
// best-effort; a diagnostic that cannot be gathered is noted and skipped,
// never allowed to mask the failure being diagnosed.
package diag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"slipway/internal/shell"
)

// journalLines is how much service log tail a report includes.
const journalLines = "50"

// tools whose versions a report captures. nginx prints its version on
// stderr, which Combined() picks up.
var versionProbes = []shell.Command{
	{Binary: "git", Args: []string{"--version"}},
	{Binary: "nginx", Args: []string{"-v"}},
	{Binary: "python3", Args: []string{"--version"}},
	{Binary: "certbot", Args: []string{"--version"}},
}

// Collector gathers failure diagnostics through a shell runner.
type Collector struct {
	Runner shell.Runner
	Logger *zap.Logger
}

// Report logs recent logs for unit, tool versions, and a host snapshot.
func (c *Collector) Report(ctx context.Context, unit string) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Bound the whole report; diagnostics on a wedged host must not stall
	// the abort path.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	logger.Info("collecting failure diagnostics", zap.String("unit", unit))

	if tail, err := c.serviceLogs(ctx, unit); err != nil {
		logger.Warn("service logs unavailable", zap.Error(err))
	} else {
		logger.Info("recent service logs", zap.String("unit", unit), zap.String("tail", tail))
	}

	for _, probe := range versionProbes {
		res, err := c.Runner.Run(ctx, probe)
		if err != nil {
			logger.Warn("tool version unavailable",
				zap.String("tool", probe.Binary), zap.Error(err))
			continue
		}
		logger.Info("tool version",
			zap.String("tool", probe.Binary),
			zap.String("version", strings.TrimSpace(res.Combined())))
	}

	c.hostSnapshot(logger)
}

func (c *Collector) serviceLogs(ctx context.Context, unit string) (string, error) {
	res, err := shell.RunChecked(ctx, c.Runner, shell.Command{
		Binary: "journalctl",
		Args:   []string{"-u", unit, "-n", journalLines, "--no-pager"},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (c *Collector) hostSnapshot(logger *zap.Logger) {
	info, err := host.Info()
	if err != nil {
		logger.Warn("host info unavailable", zap.Error(err))
	} else {
		logger.Info("host",
			zap.String("hostname", info.Hostname),
			zap.String("platform", fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)),
			zap.Duration("uptime", time.Duration(info.Uptime)*time.Second))
	}

	if avg, err := load.Avg(); err == nil {
		logger.Info("load average",
			zap.Float64("load1", avg.Load1),
			zap.Float64("load5", avg.Load5),
			zap.Float64("load15", avg.Load15))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		logger.Info("memory",
			zap.Uint64("total_mb", vm.Total>>20),
			zap.Uint64("available_mb", vm.Available>>20),
			zap.Float64("used_percent", vm.UsedPercent))
	}
}
