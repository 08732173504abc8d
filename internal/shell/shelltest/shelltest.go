// Package shelltest provides a scripted shell.Runner for exercising
// deployment steps without running real tools.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"slipway/internal/shell"
)

// Response is what a stubbed command returns.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

type stub struct {
	binary string
	prefix []string
	resp   Response
}

// Runner is a shell.Runner that replays stubbed responses and records every
// call. Zero value is usable: unstubbed commands succeed with empty output.
type Runner struct {
	mu    sync.Mutex
	stubs []stub
	calls []shell.Command
}

// On registers a response for commands matching binary and the given
// argument prefix. Later registrations win over earlier ones so tests can
// layer a specific failure on top of broad defaults.
func (r *Runner) On(binary string, argPrefix []string, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs = append(r.stubs, stub{binary: binary, prefix: argPrefix, resp: resp})
}

// Run records the call and replays the most recently registered matching
// stub, or an empty success when nothing matches.
func (r *Runner) Run(_ context.Context, cmd shell.Command) (*shell.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	var match *Response
	for i := len(r.stubs) - 1; i >= 0; i-- {
		if r.stubs[i].matches(cmd) {
			match = &r.stubs[i].resp
			break
		}
	}
	r.mu.Unlock()

	if match == nil {
		return &shell.Result{}, nil
	}
	if match.Err != nil {
		return nil, match.Err
	}
	return &shell.Result{
		Stdout:   match.Stdout,
		Stderr:   match.Stderr,
		ExitCode: match.ExitCode,
	}, nil
}

func (s stub) matches(cmd shell.Command) bool {
	if s.binary != cmd.Binary {
		return false
	}
	if len(s.prefix) > len(cmd.Args) {
		return false
	}
	for i, want := range s.prefix {
		if cmd.Args[i] != want {
			return false
		}
	}
	return true
}

// Calls returns a copy of every recorded invocation, in order.
func (r *Runner) Calls() []shell.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shell.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Called reports whether any recorded call matches binary and the given
// argument prefix.
func (r *Runner) Called(binary string, argPrefix ...string) bool {
	for _, c := range r.Calls() {
		if (stub{binary: binary, prefix: argPrefix}).matches(c) {
			return true
		}
	}
	return false
}

// CommandLines renders every recorded call as a command line, for
// sequence assertions.
func (r *Runner) CommandLines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = strings.TrimSpace(c.String())
	}
	return out
}
