// Package provision brings a bare host to the point where reconciliation
// runs can happen repeatedly. Every mutating action sits behind an
// idempotent check, so re-invoking the bootstrapper on an already
// provisioned host is safe and mostly a no-op.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"slipway/internal/config"
	"slipway/internal/nginx"
	"slipway/internal/shell"
	"slipway/internal/systemd"
)

// requiredTools must be on PATH before anything else is attempted. nginx
// prints its version on stderr; the probe only cares that the binary runs.
var requiredTools = []shell.Command{
	{Binary: "git", Args: []string{"--version"}},
	{Binary: "nginx", Args: []string{"-v"}},
	{Binary: "python3", Args: []string{"--version"}},
	{Binary: "certbot", Args: []string{"--version"}},
	{Binary: "systemctl", Args: []string{"--version"}},
}

// Bootstrapper performs first-time host setup for one target.
type Bootstrapper struct {
	Target *config.Target
	Runner shell.Runner
	Logger *zap.Logger

	// SystemdDir is where unit files are installed.
	// Defaults to /etc/systemd/system.
	SystemdDir string

	// CertLiveDir is where issued certificates live.
	// Defaults to /etc/letsencrypt/live.
	CertLiveDir string

	// TriggerCommand is the command line the installed post-receive hook
	// runs on each push. Empty skips hook installation.
	TriggerCommand string
}

// Run executes the bootstrap steps in order, stopping at the first failure.
func (b *Bootstrapper) Run(ctx context.Context) error {
	if b.SystemdDir == "" {
		b.SystemdDir = "/etc/systemd/system"
	}
	if b.CertLiveDir == "" {
		b.CertLiveDir = "/etc/letsencrypt/live"
	}
	logger := b.logger()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"check-tools", b.checkTools},
		{"ensure-user", b.ensureUser},
		{"ensure-directories", b.ensureDirectories},
		{"ensure-unit", b.ensureUnit},
		{"ensure-push-hook", b.ensurePushHook},
		{"ensure-certificate", b.ensureCertificate},
		{"install-site", b.installSite},
	}
	for _, s := range steps {
		logger.Info("bootstrap step", zap.String("step", s.name))
		if err := s.fn(ctx); err != nil {
			logger.Error("bootstrap step failed", zap.String("step", s.name), zap.Error(err))
			return fmt.Errorf("bootstrap %s: %w", s.name, err)
		}
	}
	logger.Info("bootstrap complete", zap.String("target", b.Target.Name))
	return nil
}

// checkTools fails with one report naming every missing host tool.
func (b *Bootstrapper) checkTools(ctx context.Context) error {
	var missing []string
	for _, probe := range requiredTools {
		if _, err := b.Runner.Run(ctx, probe); err != nil {
			missing = append(missing, probe.Binary)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ensureUser creates the run-as system user when it does not exist.
func (b *Bootstrapper) ensureUser(ctx context.Context) error {
	t := b.Target
	if t.RunAs == "" {
		return nil
	}
	res, err := b.Runner.Run(ctx, shell.Command{Binary: "id", Args: []string{"-u", t.RunAs}})
	if err == nil && res.Ok() {
		b.logger().Debug("run-as user exists", zap.String("user", t.RunAs))
		return nil
	}
	_, err = shell.RunChecked(ctx, b.Runner, shell.Command{
		Binary: "useradd",
		Args: []string{"--system", "--home-dir", t.AppDir,
			"--shell", "/usr/sbin/nologin", t.RunAs},
	})
	if err != nil {
		return fmt.Errorf("create user %s: %w", t.RunAs, err)
	}
	return nil
}

// ensureDirectories creates the directory tree and hands the service's
// writable paths to the run-as identity.
func (b *Bootstrapper) ensureDirectories(ctx context.Context) error {
	t := b.Target
	dirs := []string{
		filepath.Dir(t.Workdir),
		t.AppDir,
		t.ImageDir,
		t.LogDir,
		t.WebrootDir,
		t.SpoolDir,
		t.StateDir,
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if t.RunAs == "" {
		return nil
	}
	for _, dir := range []string{t.AppDir, t.ImageDir, t.LogDir} {
		if _, err := shell.RunChecked(ctx, b.Runner, shell.Command{
			Binary: "chown",
			Args:   []string{"-R", t.RunAs + ":" + t.RunAs, dir},
		}); err != nil {
			return fmt.Errorf("own %s: %w", dir, err)
		}
	}
	return nil
}

// ensureUnit installs and enables the service unit if it is not already
// present.
func (b *Bootstrapper) ensureUnit(ctx context.Context) error {
	t := b.Target
	unitPath := filepath.Join(b.SystemdDir, t.UnitFile())
	if _, err := os.Stat(unitPath); err == nil {
		b.logger().Debug("unit already installed", zap.String("unit", t.UnitFile()))
		return nil
	}

	data, err := systemd.RenderUnit(systemd.UnitData{
		Description:      fmt.Sprintf("%s application service", t.Name),
		User:             t.RunAs,
		WorkingDirectory: t.AppDir,
		EnvironmentFile:  t.EnvFile(),
		Port:             t.AppPort,
		Workers:          t.Workers,
		WritablePaths:    []string{t.AppDir, t.ImageDir, t.LogDir},
	})
	if err != nil {
		return err
	}
	if err := systemd.InstallUnit(b.SystemdDir, t.UnitFile(), data); err != nil {
		return err
	}

	sysd := &systemd.Systemctl{Runner: b.Runner}
	if err := sysd.DaemonReload(ctx); err != nil {
		return err
	}
	return sysd.Enable(ctx, t.Unit)
}

// ensurePushHook wires push-to-deploy: a post-receive hook in the source
// repo that triggers a reconciliation. Only applies to targets whose repo
// is a local path.
func (b *Bootstrapper) ensurePushHook(ctx context.Context) error {
	t := b.Target
	if b.TriggerCommand == "" {
		return nil
	}
	hooksDir := filepath.Join(t.Repo, "hooks")
	if _, err := os.Stat(hooksDir); err != nil {
		b.logger().Debug("repo has no hooks dir, skipping push hook",
			zap.String("repo", t.Repo))
		return nil
	}
	hookPath := filepath.Join(hooksDir, "post-receive")
	if _, err := os.Stat(hookPath); err == nil {
		return nil
	}
	hook := fmt.Sprintf("#!/bin/sh\nexec %s\n", b.TriggerCommand)
	if err := os.WriteFile(hookPath, []byte(hook), 0o755); err != nil {
		return fmt.Errorf("install post-receive hook: %w", err)
	}
	return nil
}

// ensureCertificate obtains the TLS certificate. The ordering constraint
// lives here: nginx must first serve the plain-HTTP bootstrap site so the
// issuer's HTTP-01 challenge can reach the webroot; only then is certbot
// invoked.
func (b *Bootstrapper) ensureCertificate(ctx context.Context) error {
	t := b.Target
	if _, err := os.Stat(filepath.Join(b.CertLiveDir, t.Domain, "fullchain.pem")); err == nil {
		b.logger().Debug("certificate already issued", zap.String("domain", t.Domain))
		return nil
	}

	site, err := nginx.RenderBootstrapSite(b.siteData())
	if err != nil {
		return err
	}
	mgr := &nginx.Manager{Runner: b.Runner, Available: t.NginxAvailable, Enabled: t.NginxEnabled}
	if err := mgr.Validate(ctx, site); err != nil {
		return err
	}
	if err := mgr.Install(t.SiteFile(), site); err != nil {
		return err
	}
	sysd := &systemd.Systemctl{Runner: b.Runner}
	if err := sysd.Reload(ctx, "nginx"); err != nil {
		return err
	}

	args := []string{"certonly", "--webroot", "-w", t.WebrootDir,
		"-d", t.Domain, "--non-interactive", "--agree-tos"}
	if t.ACMEEmail != "" {
		args = append(args, "-m", t.ACMEEmail)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}
	if _, err := shell.RunChecked(ctx, b.Runner, shell.Command{Binary: "certbot", Args: args}); err != nil {
		return fmt.Errorf("certificate issuance for %s failed (most likely the DNS A record does not point at this host yet): %w", t.Domain, err)
	}
	return nil
}

// installSite switches nginx to the final TLS configuration once a
// certificate exists.
func (b *Bootstrapper) installSite(ctx context.Context) error {
	t := b.Target
	site, err := nginx.RenderSite(b.siteData())
	if err != nil {
		return err
	}
	mgr := &nginx.Manager{Runner: b.Runner, Available: t.NginxAvailable, Enabled: t.NginxEnabled}
	if err := mgr.Validate(ctx, site); err != nil {
		return err
	}
	if err := mgr.Install(t.SiteFile(), site); err != nil {
		return err
	}
	return (&systemd.Systemctl{Runner: b.Runner}).Reload(ctx, "nginx")
}

func (b *Bootstrapper) siteData() nginx.SiteData {
	t := b.Target
	return nginx.SiteData{
		Site:    t.Site,
		Zone:    t.Zone(),
		Domain:  t.Domain,
		Port:    t.AppPort,
		Webroot: t.WebrootDir,
	}
}

func (b *Bootstrapper) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}
