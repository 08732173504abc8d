package diag

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"slipway/internal/shell/shelltest"
)

func TestReportGathersLogsAndVersions(t *testing.T) {
	runner := &shelltest.Runner{}
	runner.On("journalctl", nil, shelltest.Response{Stdout: "service log tail"})
	runner.On("git", nil, shelltest.Response{Stdout: "git version 2.43.0"})

	c := &Collector{Runner: runner, Logger: zap.NewNop()}
	c.Report(context.Background(), "penish")

	if !runner.Called("journalctl", "-u", "penish") {
		t.Error("journalctl not invoked for the unit")
	}
	for _, tool := range []string{"git", "nginx", "python3", "certbot"} {
		if !runner.Called(tool) {
			t.Errorf("%s version not probed", tool)
		}
	}
}

func TestReportSurvivesMissingTools(t *testing.T) {
	runner := &shelltest.Runner{}
	runner.On("journalctl", nil, shelltest.Response{Err: errors.New("journalctl: not found")})
	runner.On("certbot", nil, shelltest.Response{Err: errors.New("certbot: not found")})

	// Must not panic or return an error path; diagnostics are best-effort.
	c := &Collector{Runner: runner, Logger: zap.NewNop()}
	c.Report(context.Background(), "penish")
}
