// Package shell runs the external tools slipway drives (git, nginx,
// systemctl, certbot, the package installer) and captures their output.
//
// All host mutation goes through the Runner interface so that every step of
// a deployment can be exercised in tests against a scripted runner without
// touching the machine.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one external tool invocation.
type Command struct {
	// Binary is the executable to run (e.g. "git", "systemctl").
	Binary string

	// Args are the command-line arguments.
	Args []string

	// Dir is the working directory. Empty means the process default.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the parent environment.
	Env []string

	// Stdin is fed to the command's standard input when non-empty.
	Stdin string

	// Timeout bounds the execution. Zero means the runner's default.
	Timeout time.Duration
}

// String returns the invocation as a displayable command line.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Result captures a completed invocation. A non-zero exit code is not an
// error at this layer; callers decide what an exit code means.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Ok reports whether the command exited zero.
func (r *Result) Ok() bool { return r.ExitCode == 0 }

// Combined returns stdout followed by stderr, newline-separated.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunChecked runs cmd and fails when the process cannot be started, is
// killed, or exits non-zero. Stderr is folded into the returned error so
// call sites get a useful message without extra plumbing.
func RunChecked(ctx context.Context, r Runner, cmd Command) (*Result, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.String(), err)
	}
	if !res.Ok() {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		if detail == "" {
			return res, fmt.Errorf("%s: exit status %d", cmd.String(), res.ExitCode)
		}
		return res, fmt.Errorf("%s: exit status %d: %s", cmd.String(), res.ExitCode, detail)
	}
	return res, nil
}

const (
	defaultTimeout = 2 * time.Minute

	// maxOutputBytes caps captured stdout/stderr. Installer and journalctl
	// output can be large; anything beyond this is discarded.
	maxOutputBytes = 1 << 20
)

// ExecRunner runs commands directly on the host via os/exec.
type ExecRunner struct {
	// DefaultTimeout applies when Command.Timeout is zero.
	DefaultTimeout time.Duration
}

// NewExecRunner returns an ExecRunner with the package default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{DefaultTimeout: defaultTimeout}
}

// Run executes the command, capturing bounded stdout/stderr. The returned
// error is non-nil only when the process could not run to completion: bad
// binary, context cancellation, or timeout. A plain non-zero exit yields a
// nil error and the code in Result.ExitCode.
func (e *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("shell: empty binary")
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = e.DefaultTimeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &limitedWriter{w: &stdout, max: maxOutputBytes}
	c.Stderr = &limitedWriter{w: &stderr, max: maxOutputBytes}

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", cmd.String(), runCtx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("%s: %w", cmd.String(), err)
	}
	return res, nil
}

// limitedWriter discards bytes beyond max. Truncation is silent; captured
// output is for logs and error messages, not for data transfer.
type limitedWriter struct {
	w   *bytes.Buffer
	max int64
	n   int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	remaining := l.max - l.n
	if remaining <= 0 {
		l.n += int64(len(p))
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		l.w.Write(p[:remaining])
		l.n += int64(len(p))
		return len(p), nil
	}
	l.n += int64(len(p))
	return l.w.Write(p)
}
