package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "botengine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, "run-1", "extract pricing"))

	record, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "extract pricing", record.Goal)
	assert.Empty(t, record.FinalStatus)
	assert.Nil(t, record.FinishedAt)

	require.NoError(t, s.FinishRun(ctx, "run-1", "completed"))

	record, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", record.FinalStatus)
	require.NotNil(t, record.FinishedAt)
}

func TestSnapshotReplacesPrevious(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, "run-1", "goal"))
	require.NoError(t, s.SaveSnapshot(ctx, "run-1", []byte(`{"iteration_count":1}`)))
	require.NoError(t, s.SaveSnapshot(ctx, "run-1", []byte(`{"iteration_count":2}`)))

	state, err := s.LoadSnapshot(ctx, "run-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"iteration_count":2}`, string(state))

	_, err = s.LoadSnapshot(ctx, "missing")
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, "run-a", "first goal"))
	require.NoError(t, s.CreateRun(ctx, "run-b", "second goal"))

	records, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].ID, records[1].ID}
	assert.ElementsMatch(t, []string{"run-a", "run-b"}, ids)
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.Error(t, err)
}
