package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRunRoundTrip(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, j.RunStarted(ctx, id, "penish", "main", "syncing"))
	require.NoError(t, j.RunCommit(ctx, id, "abc123"))
	require.NoError(t, j.StepStarted(ctx, id, "sync"))
	require.NoError(t, j.StepFinished(ctx, id, "sync", "succeeded", ""))
	require.NoError(t, j.StepStarted(ctx, id, "install-dependencies"))
	require.NoError(t, j.StepFinished(ctx, id, "install-dependencies", "failed", "pip exited 1"))
	require.NoError(t, j.RunFinished(ctx, id, "failed", "install-dependencies", "pip exited 1"))

	run, err := j.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "failed", run.State)
	assert.Equal(t, "install-dependencies", run.FailureStep)
	assert.Equal(t, "pip exited 1", run.FailureReason)
	assert.Equal(t, "abc123", run.Commit)
	assert.False(t, run.StartedAt.IsZero(), "started_at not recorded")
	assert.False(t, run.FinishedAt.IsZero(), "finished_at not recorded")

	steps, err := j.RunSteps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "sync", steps[0].Name)
	assert.Equal(t, "succeeded", steps[0].State)
	assert.Equal(t, "pip exited 1", steps[1].Detail)
}

func TestTimestampsParseOnReadBack(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	id := uuid.NewString()
	before := time.Now().UTC().Add(-time.Second)

	require.NoError(t, j.RunStarted(ctx, id, "penish", "main", "syncing"))
	require.NoError(t, j.StepStarted(ctx, id, "sync"))
	require.NoError(t, j.StepFinished(ctx, id, "sync", "succeeded", ""))
	require.NoError(t, j.RunFinished(ctx, id, "succeeded", "", ""))
	after := time.Now().UTC().Add(time.Second)

	run, err := j.GetRun(ctx, id)
	require.NoError(t, err)
	// Reads come back as stored text, so a parse failure shows up as the
	// zero time and lands outside the write window.
	assert.True(t, run.StartedAt.After(before) && run.StartedAt.Before(after),
		"started_at %v outside write window", run.StartedAt)
	assert.True(t, run.FinishedAt.After(before) && run.FinishedAt.Before(after),
		"finished_at %v outside write window", run.FinishedAt)
	assert.False(t, run.FinishedAt.Before(run.StartedAt), "run finished before it started")

	steps, err := j.RunSteps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].StartedAt.After(before) && steps[0].StartedAt.Before(after),
		"step started_at %v outside write window", steps[0].StartedAt)
	assert.True(t, steps[0].FinishedAt.After(before) && steps[0].FinishedAt.Before(after),
		"step finished_at %v outside write window", steps[0].FinishedAt)
}

func TestRecentRunsHonorsLimit(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		require.NoError(t, j.RunStarted(ctx, id, "penish", "main", "syncing"))
		require.NoError(t, j.RunFinished(ctx, id, "succeeded", "", ""))
	}

	runs, err := j.RecentRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestGetRunNotFound(t *testing.T) {
	j := openTest(t)
	_, err := j.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	// Second open re-runs migrations against an already-migrated database.
	j2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j2.Close())
}
