package reconcile

import "errors"

// The step failure taxonomy. Every error a run can end in wraps exactly one
// of these, so callers classify outcomes with errors.Is. All are terminal
// for the run; nothing is retried within a run.
var (
	// ErrSync: the remote was unreachable or the checkout could not be
	// forced to the remote tip.
	ErrSync = errors.New("source sync failed")

	// ErrConfigWrite: the application env file could not be materialized.
	ErrConfigWrite = errors.New("config write failed")

	// ErrMissingArtifact: a required release artifact is absent from the
	// synced tree.
	ErrMissingArtifact = errors.New("required artifact missing")

	// ErrDependencyInstall: the package installer exited non-zero. The
	// service is never restarted over unmet dependencies.
	ErrDependencyInstall = errors.New("dependency install failed")

	// ErrConfigInvalid: the candidate proxy config failed the syntax
	// check. The active config is left untouched.
	ErrConfigInvalid = errors.New("proxy config invalid")

	// ErrHealthCheck: the service restarted but a post-restart probe
	// never passed. Applied changes are not rolled back automatically;
	// rollback is a documented manual procedure.
	ErrHealthCheck = errors.New("health check failed")

	// ErrLockHeld: another run holds this target's lock.
	ErrLockHeld = errors.New("deployment lock held by another run")
)
