// Package systemd observes and requests changes to supervised services.
// Unit state is owned by the supervisor; slipway only ever observes it and
// issues start/restart/reload requests, never mutates it directly.
package systemd

import (
	"context"
	"fmt"
	"strings"

	"slipway/internal/shell"
)

// ServiceState is the observed state of a supervised process.
type ServiceState string

const (
	StateStopped  ServiceState = "stopped"
	StateStarting ServiceState = "starting"
	StateRunning  ServiceState = "running"
	StateFailed   ServiceState = "failed"
	StateUnknown  ServiceState = "unknown"
)

// Systemctl issues requests to the process supervisor through a shell
// runner.
type Systemctl struct {
	Runner shell.Runner
}

// Restart requests a full stop/start of unit.
func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	return s.request(ctx, "restart", unit)
}

// Reload requests a config reload without dropping in-flight connections.
func (s *Systemctl) Reload(ctx context.Context, unit string) error {
	return s.request(ctx, "reload", unit)
}

// Enable marks unit for start at boot.
func (s *Systemctl) Enable(ctx context.Context, unit string) error {
	return s.request(ctx, "enable", unit)
}

// Start requests unit be started.
func (s *Systemctl) Start(ctx context.Context, unit string) error {
	return s.request(ctx, "start", unit)
}

// DaemonReload makes the supervisor re-read unit files after one is
// installed or changed.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	_, err := shell.RunChecked(ctx, s.Runner, shell.Command{
		Binary: "systemctl",
		Args:   []string{"daemon-reload"},
	})
	return err
}

func (s *Systemctl) request(ctx context.Context, verb, unit string) error {
	_, err := shell.RunChecked(ctx, s.Runner, shell.Command{
		Binary: "systemctl",
		Args:   []string{verb, unit},
	})
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return nil
}

// State observes unit's current state. `systemctl show` exits zero even for
// unknown units, so a non-zero exit here means systemctl itself is broken.
func (s *Systemctl) State(ctx context.Context, unit string) (ServiceState, error) {
	res, err := shell.RunChecked(ctx, s.Runner, shell.Command{
		Binary: "systemctl",
		Args:   []string{"show", unit, "--property=ActiveState,SubState", "--no-pager"},
	})
	if err != nil {
		return StateUnknown, err
	}

	var active, sub string
	for _, line := range strings.Split(res.Stdout, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "ActiveState":
			active = value
		case "SubState":
			sub = value
		}
	}
	return mapState(active, sub), nil
}

func mapState(active, sub string) ServiceState {
	switch active {
	case "active":
		if sub == "running" {
			return StateRunning
		}
		return StateStarting
	case "activating", "reloading":
		return StateStarting
	case "failed":
		return StateFailed
	case "inactive", "deactivating":
		return StateStopped
	default:
		return StateUnknown
	}
}
