package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheriff/internal/mission"
)

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func snap(id, taskID string, retry int) mission.Snapshot {
	return mission.Snapshot{
		SnapshotID:        id,
		TaskID:            taskID,
		GeneratedArtifact: "package x\n",
		ErrorMessage:      "sandbox: assertion failed",
		RetryCount:        retry,
		Timestamp:         time.Now().UTC(),
	}
}

func TestArchiveSnapshotRoundTrip(t *testing.T) {
	a := openArchive(t)

	require.NoError(t, a.ArchiveSnapshot("m1", snap("s1", "t1", 0)))
	require.NoError(t, a.ArchiveSnapshot("m1", snap("s2", "t1", 1)))
	require.NoError(t, a.ArchiveSnapshot("m1", snap("s3", "t2", 0)))
	require.NoError(t, a.ArchiveSnapshot("m2", snap("s4", "t1", 0)))

	snaps, err := a.Snapshots("m1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "s1", snaps[0].SnapshotID)
	assert.Equal(t, "sandbox: assertion failed", snaps[0].ErrorMessage)

	// Attempt history for one task, in order.
	t1, err := a.TaskSnapshots("m1", "t1")
	require.NoError(t, err)
	require.Len(t, t1, 2)
	assert.Equal(t, 0, t1[0].RetryCount)
	assert.Equal(t, 1, t1[1].RetryCount)
}

func TestArchiveSnapshotIsIdempotent(t *testing.T) {
	a := openArchive(t)

	require.NoError(t, a.ArchiveSnapshot("m1", snap("dup", "t1", 0)))
	require.NoError(t, a.ArchiveSnapshot("m1", snap("dup", "t1", 0)))

	snaps, err := a.Snapshots("m1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestOutcomeHistoryNewestFirst(t *testing.T) {
	a := openArchive(t)

	require.NoError(t, a.RecordOutcome("m1", "build parser", mission.ExecutionSummary{
		TotalTasks: 3, CompletedTasks: 1, ResourceUnitsUsed: 21000, Paused: true,
	}, mission.ErrMissionPaused))
	require.NoError(t, a.RecordOutcome("m1", "build parser", mission.ExecutionSummary{
		TotalTasks: 3, CompletedTasks: 3, ResourceUnitsUsed: 30500,
	}, nil))

	records, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 3, records[0].CompletedTasks)
	assert.False(t, records[0].Paused)
	assert.Empty(t, records[0].ErrorMessage)

	assert.True(t, records[1].Paused)
	assert.Contains(t, records[1].ErrorMessage, "paused")
}

func TestOutcomeRecordsFailure(t *testing.T) {
	a := openArchive(t)

	runErr := &mission.TaskFailure{TaskID: "t2", State: mission.StateRollback, ErrorMessage: "retries exhausted", RetriesUsed: 3}
	require.NoError(t, a.RecordOutcome("m1", "doomed", mission.ExecutionSummary{TotalTasks: 2, CompletedTasks: 1}, runErr))

	records, err := a.History(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ErrorMessage, "t2")

	var tf *mission.TaskFailure
	assert.True(t, errors.As(runErr, &tf))
}

func TestArchiveReopensExistingDatabase(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, a.ArchiveSnapshot("m1", snap("s1", "t1", 0)))
	require.NoError(t, a.Close())

	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	snaps, err := b.Snapshots("m1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}
