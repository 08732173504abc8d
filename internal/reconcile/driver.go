// Package reconcile drives one deployment: seven ordered, individually
// idempotent steps that move a target from "whatever is on disk now" to
// "latest committed code, running service, passing health checks". A run is
// one pass; the first fatal step ends it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"slipway/internal/config"
	"slipway/internal/diag"
	"slipway/internal/envfile"
	"slipway/internal/health"
	"slipway/internal/nginx"
	"slipway/internal/shell"
	"slipway/internal/source"
	"slipway/internal/systemd"
)

// installerTimeout bounds the dependency install, the slowest step.
const installerTimeout = 10 * time.Minute

// Driver executes reconciliation runs against one target. Target and
// secrets are explicit inputs; the driver never reads process environment
// or the working directory.
type Driver struct {
	Target  *config.Target
	Secrets config.Secrets
	Runner  shell.Runner
	Logger  *zap.Logger

	// Recorder receives run history. Nil means no journal.
	Recorder Recorder

	// Diagnostics reports context on fatal failures. Nil disables.
	Diagnostics *diag.Collector

	// BaseURL overrides the probed address. Empty uses the target's
	// loopback port.
	BaseURL string
}

// Outcome summarizes one finished run.
type Outcome struct {
	RunID      string
	Commit     string
	State      RunState
	FailedStep Step
}

// run carries the state threaded through one pass.
type run struct {
	d  *Driver
	id string

	commit    string
	candidate []byte // validated site config, installed at restart
}

// Run executes one reconciliation pass. The returned error is nil exactly
// when the outcome state is Succeeded, and otherwise wraps one sentinel
// from the step taxonomy (or ErrLockHeld).
func (d *Driver) Run(ctx context.Context) (Outcome, error) {
	t := d.Target
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := d.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}

	if err := os.MkdirAll(t.StateDir, 0o755); err != nil {
		return Outcome{State: StateFailed}, fmt.Errorf("prepare state dir: %w", err)
	}
	lock := flock.New(t.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return Outcome{State: StateFailed}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return Outcome{State: StateFailed}, fmt.Errorf("target %s: %w", t.Name, ErrLockHeld)
	}
	defer lock.Unlock()

	r := &run{d: d, id: uuid.NewString()}
	logger = logger.With(zap.String("run", r.id), zap.String("target", t.Name))
	logger.Info("reconciliation run starting",
		zap.String("repo", t.Repo), zap.String("branch", t.Branch))

	if err := rec.RunStarted(ctx, r.id, t.Name, t.Branch, string(StateSyncing)); err != nil {
		logger.Warn("journal write failed", zap.Error(err))
	}

	steps := []struct {
		step  Step
		state RunState
		fn    func(context.Context) error
	}{
		{StepSync, StateSyncing, r.syncSource},
		{StepConfigureSecrets, StateConfiguringSecrets, r.configureSecrets},
		{StepPlaceArtifacts, StatePlacingArtifacts, r.placeArtifacts},
		{StepInstallDependencies, StateInstallingDependencies, r.installDependencies},
		{StepValidateConfig, StateValidatingConfig, r.validateConfig},
		{StepRestartServices, StateRestartingServices, r.restartServices},
		{StepVerifyHealth, StateVerifyingHealth, r.verifyHealth},
	}

	for _, s := range steps {
		stepLogger := logger.With(zap.String("step", string(s.step)))
		stepLogger.Info("step starting", zap.String("state", string(s.state)))
		if err := rec.StepStarted(ctx, r.id, string(s.step)); err != nil {
			logger.Warn("journal write failed", zap.Error(err))
		}

		start := time.Now()
		err := s.fn(ctx)
		elapsed := time.Since(start)

		if err != nil {
			stepLogger.Error("step failed", zap.Duration("elapsed", elapsed), zap.Error(err))
			if recErr := rec.StepFinished(ctx, r.id, string(s.step), string(StateFailed), err.Error()); recErr != nil {
				logger.Warn("journal write failed", zap.Error(recErr))
			}
			if recErr := rec.RunFinished(ctx, r.id, string(StateFailed), string(s.step), err.Error()); recErr != nil {
				logger.Warn("journal write failed", zap.Error(recErr))
			}
			if d.Diagnostics != nil {
				d.Diagnostics.Report(ctx, t.Unit)
			}
			return Outcome{RunID: r.id, Commit: r.commit, State: StateFailed, FailedStep: s.step}, err
		}

		stepLogger.Info("step succeeded", zap.Duration("elapsed", elapsed))
		if recErr := rec.StepFinished(ctx, r.id, string(s.step), string(StateSucceeded), ""); recErr != nil {
			logger.Warn("journal write failed", zap.Error(recErr))
		}
		if s.step == StepSync {
			if recErr := rec.RunCommit(ctx, r.id, r.commit); recErr != nil {
				logger.Warn("journal write failed", zap.Error(recErr))
			}
		}
	}

	if err := rec.RunFinished(ctx, r.id, string(StateSucceeded), "", ""); err != nil {
		logger.Warn("journal write failed", zap.Error(err))
	}
	logger.Info("reconciliation run succeeded", zap.String("commit", r.commit))
	return Outcome{RunID: r.id, Commit: r.commit, State: StateSucceeded}, nil
}

// syncSource forces the checkout to the remote tip, cloning fresh when no
// checkout exists. Local drift is discarded by design.
func (r *run) syncSource(ctx context.Context) error {
	t := r.d.Target
	git := &source.Git{Runner: r.d.Runner}
	commit, err := git.Sync(ctx, t.Repo, t.Branch, t.Workdir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	r.commit = commit
	return nil
}

// configureSecrets rewrites the application env file from the secret
// bundle. The file never exists with lax permissions, even transiently.
func (r *run) configureSecrets(ctx context.Context) error {
	t := r.d.Target
	if err := envfile.Write(t.EnvFile(), envfile.ForDeployment(t, r.d.Secrets)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	return nil
}

// installDependencies runs the configured installer in the app dir. A
// non-zero exit is fatal: the service is never restarted over unmet
// dependencies.
func (r *run) installDependencies(ctx context.Context) error {
	t := r.d.Target
	_, err := shell.RunChecked(ctx, r.d.Runner, shell.Command{
		Binary:  t.Installer[0],
		Args:    t.Installer[1:],
		Dir:     t.AppDir,
		Timeout: installerTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDependencyInstall, err)
	}
	return nil
}

// validateConfig renders the candidate site config and runs it through
// nginx's syntax checker. The active config is untouched until the restart
// step, and only ever replaced by a candidate that passed here.
func (r *run) validateConfig(ctx context.Context) error {
	t := r.d.Target
	candidate, err := r.renderSite()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	mgr := &nginx.Manager{Runner: r.d.Runner, Available: t.NginxAvailable, Enabled: t.NginxEnabled}
	if err := mgr.Validate(ctx, candidate); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	r.candidate = candidate
	return nil
}

// renderSite renders from the checkout's proxy template when the release
// ships one, falling back to the built-in template with a warning.
func (r *run) renderSite() ([]byte, error) {
	t := r.d.Target
	data := nginx.SiteData{
		Site:    t.Site,
		Zone:    t.Zone(),
		Domain:  t.Domain,
		Port:    t.AppPort,
		Webroot: t.WebrootDir,
	}

	custom := filepath.Join(t.Workdir, "deploy", "nginx.conf.tmpl")
	src, err := os.ReadFile(custom)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read proxy template: %w", err)
		}
		r.logger().Warn("release ships no proxy template, using built-in",
			zap.String("looked_for", custom))
		return nginx.RenderSite(data)
	}
	return nginx.RenderSiteFrom(string(src), data)
}

// restartServices activates the validated site config, restarts the app
// unit, and reloads (not restarts) nginx so in-flight connections survive.
func (r *run) restartServices(ctx context.Context) error {
	t := r.d.Target
	mgr := &nginx.Manager{Runner: r.d.Runner, Available: t.NginxAvailable, Enabled: t.NginxEnabled}
	if err := mgr.Install(t.SiteFile(), r.candidate); err != nil {
		return err
	}

	sysd := &systemd.Systemctl{Runner: r.d.Runner}
	if err := sysd.Restart(ctx, t.Unit); err != nil {
		return err
	}
	return sysd.Reload(ctx, "nginx")
}

// verifyHealth waits out the settle delay, then runs the liveness and
// functional probes with a bounded poll budget. A failure here is reported
// but already-applied changes stay; rollback is a manual procedure.
func (r *run) verifyHealth(ctx context.Context) error {
	t := r.d.Target
	if t.Health.SettleDelay > 0 {
		select {
		case <-time.After(t.Health.SettleDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrHealthCheck, ctx.Err())
		}
	}

	base := r.d.BaseURL
	if base == "" {
		base = t.BaseURL()
	}
	poller := &health.Poller{
		Attempts: t.Health.Attempts,
		Interval: t.Health.Interval,
		Timeout:  t.Health.Timeout,
		Logger:   r.logger(),
	}

	checks := []health.Check{
		&health.BodyContains{URL: base + "/health", Token: "healthy"},
		&health.JSONField{URL: base + "/api/wifi", Field: "ssid"},
	}
	for _, check := range checks {
		if err := poller.Wait(ctx, check); err != nil {
			return fmt.Errorf("%w: %w", ErrHealthCheck, err)
		}
	}
	return nil
}

func (r *run) logger() *zap.Logger {
	if r.d.Logger == nil {
		return zap.NewNop()
	}
	return r.d.Logger
}

// FailureExitCode maps a run error to the process exit code. Everything
// fatal is 1.
func FailureExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// ClassifyStep names the taxonomy member err wraps, for reporting.
func ClassifyStep(err error) string {
	switch {
	case errors.Is(err, ErrSync):
		return "SyncError"
	case errors.Is(err, ErrConfigWrite):
		return "ConfigWriteError"
	case errors.Is(err, ErrMissingArtifact):
		return "MissingArtifactError"
	case errors.Is(err, ErrDependencyInstall):
		return "DependencyInstallError"
	case errors.Is(err, ErrConfigInvalid):
		return "ConfigInvalidError"
	case errors.Is(err, ErrHealthCheck):
		return "HealthCheckFailed"
	case errors.Is(err, ErrLockHeld):
		return "LockHeld"
	default:
		return "Error"
	}
}
