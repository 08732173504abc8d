// Package spool connects pushes to reconciliation runs. A push (or an
// operator) drops a trigger file into the spool directory; the agent
// watches the directory and runs one reconciliation per burst of triggers,
// draining the spool so a pile-up of pushes collapses into a single run.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// triggerSuffix marks files the watcher reacts to; everything else in the
// spool dir is ignored.
const triggerSuffix = ".trigger"

// defaultDebounce coalesces triggers arriving close together.
const defaultDebounce = 2 * time.Second

// Trigger drops a new trigger file into dir and returns its path. The file
// is staged and renamed so the watcher never sees a half-written entry.
func Trigger(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare spool dir: %w", err)
	}
	name := uuid.NewString() + triggerSuffix
	staged := filepath.Join(dir, "."+name)
	body := fmt.Sprintf("requested_at=%s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(staged, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write trigger: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(staged, path); err != nil {
		os.Remove(staged)
		return "", fmt.Errorf("activate trigger: %w", err)
	}
	return path, nil
}

// Watcher turns trigger files into reconciliation runs.
type Watcher struct {
	// Dir is the spool directory.
	Dir string

	// Run performs one reconciliation. Its error is logged, not fatal:
	// the agent keeps serving subsequent triggers.
	Run func(ctx context.Context) error

	// Debounce is how long the watcher waits after the last trigger
	// before running. Zero takes the default.
	Debounce time.Duration

	Logger *zap.Logger
}

// Watch blocks until ctx is cancelled, running one reconciliation per
// trigger burst. Triggers that arrived while the agent was down are served
// first.
func (w *Watcher) Watch(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := w.Debounce
	if debounce == 0 {
		debounce = defaultDebounce
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("prepare spool dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	logger.Info("watching spool", zap.String("dir", w.Dir))

	// Serve triggers dropped while nobody was watching.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	if pending, err := w.pending(); err != nil {
		return err
	} else if pending {
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("spool watcher closed")
			}
			if !isTrigger(event) {
				continue
			}
			logger.Debug("trigger observed", zap.String("file", event.Name))
			timer.Reset(debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("spool watcher closed")
			}
			logger.Warn("spool watch error", zap.Error(err))

		case <-timer.C:
			if err := w.drain(logger); err != nil {
				return err
			}
			logger.Info("running triggered reconciliation")
			if err := w.Run(ctx); err != nil {
				logger.Error("triggered run failed", zap.Error(err))
			}
			// Triggers dropped during the run start a fresh cycle.
			if pending, err := w.pending(); err != nil {
				return err
			} else if pending {
				timer.Reset(debounce)
			}
		}
	}
}

func isTrigger(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	return strings.HasSuffix(base, triggerSuffix) && !strings.HasPrefix(base, ".")
}

// drain removes every trigger file currently in the spool.
func (w *Watcher) drain(logger *zap.Logger) error {
	names, err := w.triggers()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(w.Dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("drain trigger %s: %w", name, err)
		}
	}
	logger.Debug("spool drained", zap.Int("triggers", len(names)))
	return nil
}

func (w *Watcher) pending() (bool, error) {
	names, err := w.triggers()
	return len(names) > 0, err
}

func (w *Watcher) triggers() ([]string, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("list spool: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, triggerSuffix) && !strings.HasPrefix(name, ".") {
			names = append(names, name)
		}
	}
	return names, nil
}
