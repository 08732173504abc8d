// Package source manages the deployment checkout. The working directory is
// never hand-edited: every sync discards local drift and forces the tree to
// the remote tip.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slipway/internal/shell"
)

// Git performs version-control operations through a shell runner.
type Git struct {
	Runner shell.Runner
}

// Sync brings workdir to the tip of origin/<branch> and returns the synced
// commit. A missing workdir is cloned fresh; an existing checkout is fetched
// and hard-reset. The workdir is never left partially checked out: clones
// land in a temporary sibling directory and are renamed into place only
// after the clone completes.
func (g *Git) Sync(ctx context.Context, repo, branch, workdir string) (string, error) {
	ok, err := isCheckout(workdir)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := g.clone(ctx, repo, branch, workdir); err != nil {
			return "", err
		}
	} else {
		if _, err := shell.RunChecked(ctx, g.Runner, shell.Command{
			Binary: "git",
			Args:   []string{"fetch", "origin", branch},
			Dir:    workdir,
		}); err != nil {
			return "", err
		}
		if _, err := shell.RunChecked(ctx, g.Runner, shell.Command{
			Binary: "git",
			Args:   []string{"reset", "--hard", "origin/" + branch},
			Dir:    workdir,
		}); err != nil {
			return "", err
		}
	}
	return g.Head(ctx, workdir)
}

func (g *Git) clone(ctx context.Context, repo, branch, workdir string) error {
	tmp := workdir + ".cloning"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clear stale clone dir: %w", err)
	}
	if _, err := shell.RunChecked(ctx, g.Runner, shell.Command{
		Binary: "git",
		Args:   []string{"clone", "--branch", branch, repo, tmp},
	}); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.Rename(tmp, workdir); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("activate clone: %w", err)
	}
	return nil
}

// Head returns the commit hash the checkout currently points at.
func (g *Git) Head(ctx context.Context, dir string) (string, error) {
	res, err := shell.RunChecked(ctx, g.Runner, shell.Command{
		Binary: "git",
		Args:   []string{"rev-parse", "HEAD"},
		Dir:    dir,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Dirty reports whether dir has uncommitted changes.
func (g *Git) Dirty(ctx context.Context, dir string) (bool, error) {
	res, err := shell.RunChecked(ctx, g.Runner, shell.Command{
		Binary: "git",
		Args:   []string{"status", "--porcelain"},
		Dir:    dir,
	})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// CommitAll stages everything in dir and commits it with message.
func (g *Git) CommitAll(ctx context.Context, dir, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("commit message is empty")
	}
	if _, err := shell.RunChecked(ctx, g.Runner, shell.Command{
		Binary: "git",
		Args:   []string{"add", "-A"},
		Dir:    dir,
	}); err != nil {
		return err
	}
	_, err := shell.RunChecked(ctx, g.Runner, shell.Command{
		Binary: "git",
		Args:   []string{"commit", "-m", message},
		Dir:    dir,
	})
	return err
}

// Push publishes branch to origin.
func (g *Git) Push(ctx context.Context, dir, branch string) error {
	_, err := shell.RunChecked(ctx, g.Runner, shell.Command{
		Binary: "git",
		Args:   []string{"push", "origin", branch},
		Dir:    dir,
	})
	return err
}

// isCheckout reports whether dir is a git checkout. A directory that exists
// but is not a checkout is an error: the workdir invariant is "absent or a
// valid checkout", and anything else needs an operator, not a guess.
func isCheckout(dir string) (bool, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat workdir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("workdir %s exists but is not a checkout; refusing to touch it", dir)
		}
		return false, fmt.Errorf("stat workdir: %w", err)
	}
	return true, nil
}
