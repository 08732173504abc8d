package systemd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slipway/internal/shell/shelltest"
)

func TestRequestsGoThroughSystemctl(t *testing.T) {
	runner := &shelltest.Runner{}
	s := &Systemctl{Runner: runner}
	ctx := context.Background()

	if err := s.Restart(ctx, "penish"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if err := s.Reload(ctx, "nginx"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := s.DaemonReload(ctx); err != nil {
		t.Fatalf("DaemonReload: %v", err)
	}

	want := []string{
		"systemctl restart penish",
		"systemctl reload nginx",
		"systemctl daemon-reload",
	}
	got := runner.CommandLines()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRestartFailureSurfacesDetail(t *testing.T) {
	runner := &shelltest.Runner{}
	runner.On("systemctl", []string{"restart"}, shelltest.Response{
		ExitCode: 1,
		Stderr:   "Job for penish.service failed",
	})

	err := (&Systemctl{Runner: runner}).Restart(context.Background(), "penish")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "penish.service failed") {
		t.Errorf("systemctl detail missing: %v", err)
	}
}

func TestStateMapping(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		want   ServiceState
	}{
		{"running", "ActiveState=active\nSubState=running\n", StateRunning},
		{"start-pre", "ActiveState=active\nSubState=start-pre\n", StateStarting},
		{"activating", "ActiveState=activating\nSubState=auto-restart\n", StateStarting},
		{"failed", "ActiveState=failed\nSubState=failed\n", StateFailed},
		{"stopped", "ActiveState=inactive\nSubState=dead\n", StateStopped},
		{"unknown unit", "ActiveState=\nSubState=\n", StateUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &shelltest.Runner{}
			runner.On("systemctl", []string{"show"}, shelltest.Response{Stdout: tc.stdout})

			got, err := (&Systemctl{Runner: runner}).State(context.Background(), "penish")
			if err != nil {
				t.Fatalf("State: %v", err)
			}
			if got != tc.want {
				t.Errorf("state = %s, want %s", got, tc.want)
			}
		})
	}
}

func sampleUnit() UnitData {
	return UnitData{
		Description:      "peni.sh wifi name service",
		User:             "penish",
		WorkingDirectory: "/var/www/peni.sh",
		EnvironmentFile:  "/var/www/peni.sh/.env",
		Port:             8000,
		Workers:          2,
		WritablePaths: []string{
			"/var/www/peni.sh",
			"/var/www/peni.sh/images",
			"/var/log/penish",
		},
	}
}

func TestRenderUnit(t *testing.T) {
	out, err := RenderUnit(sampleUnit())
	if err != nil {
		t.Fatalf("RenderUnit: %v", err)
	}
	unit := string(out)

	for _, want := range []string{
		"User=penish",
		"Group=penish",
		"EnvironmentFile=/var/www/peni.sh/.env",
		"--host 127.0.0.1 --port 8000 --workers 2",
		"Restart=always",
		"ProtectSystem=strict",
		"ReadWritePaths=/var/www/peni.sh /var/www/peni.sh/images /var/log/penish",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestRenderUnitRejectsIncompleteData(t *testing.T) {
	d := sampleUnit()
	d.User = ""
	if _, err := RenderUnit(d); err == nil {
		t.Fatal("expected error for missing user")
	}
}

func TestInstallUnitStagedRename(t *testing.T) {
	dir := t.TempDir()
	if err := InstallUnit(dir, "penish.service", []byte("[Unit]\n")); err != nil {
		t.Fatalf("InstallUnit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "penish.service")); err != nil {
		t.Errorf("unit not installed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "penish.service.staged")); !os.IsNotExist(err) {
		t.Error("staged file left behind")
	}
}
