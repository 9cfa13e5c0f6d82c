package mission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *OrchestratorState {
	return &OrchestratorState{
		MissionID:              "m-test",
		CurrentTaskID:          "t3",
		ExecutionOrder:         []string{"t1", "t2", "t3"},
		CompletedTaskIDs:       []string{"t1", "t2"},
		ForbiddenZones:         []string{"func:badParse"},
		TotalResourceUnitsUsed: 1234,
		Paused:                 true,
		DAGTopology: GraphTopology{
			Nodes: []string{"t1", "t2", "t3"},
			Edges: []Edge{{From: "t1", To: "t2"}, {From: "t2", To: "t3"}},
		},
		ContentHashes: map[string]string{"t1": "abc", "t2": "def"},
		Tasks: []AtomicTask{
			{ID: "t1", State: StateDone},
			{ID: "t2", State: StateDone},
			{ID: "t3", State: StatePaused, RetryCount: 1, MaxRetries: 3},
		},
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStateRoundTrip(t *testing.T) {
	store := NewStateStore(t.TempDir())
	want := sampleState()

	require.NoError(t, store.Save(want))
	got, err := store.Load("m-test")
	require.NoError(t, err)
	require.NotNil(t, got)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state changed across round trip (-want +got):\n%s", diff)
	}
}

func TestLoadMissingStateIsNotAnError(t *testing.T) {
	store := NewStateStore(t.TempDir())
	got, err := store.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadCorruptStateIsNoPriorState(t *testing.T) {
	ws := t.TempDir()
	store := NewStateStore(ws)
	require.NoError(t, store.Save(sampleState()))

	path := filepath.Join(ws, ".sheriff", "missions", "m-test", "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0644))

	got, err := store.Load("m-test")
	require.NoError(t, err, "corrupt state must not error")
	assert.Nil(t, got)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	ws := t.TempDir()
	store := NewStateStore(ws)
	require.NoError(t, store.Save(sampleState()))

	dir := filepath.Join(ws, ".sheriff", "missions", "m-test")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestListMissions(t *testing.T) {
	store := NewStateStore(t.TempDir())

	ids, err := store.ListMissions()
	require.NoError(t, err)
	assert.Empty(t, ids)

	a := sampleState()
	a.MissionID = "m-a"
	b := sampleState()
	b.MissionID = "m-b"
	require.NoError(t, store.Save(a))
	require.NoError(t, store.Save(b))

	ids, err = store.ListMissions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m-a", "m-b"}, ids)
}

func TestRollbackLogAppendOnly(t *testing.T) {
	log := NewRollbackLog(t.TempDir())

	first := RollbackRecord{TaskID: "t1", Reason: "review rejected", SnapshotReference: "s1", Timestamp: time.Now().UTC()}
	second := RollbackRecord{TaskID: "t2", Reason: "retries exhausted", SnapshotReference: "s2", Timestamp: time.Now().UTC()}
	require.NoError(t, log.Append(first))
	require.NoError(t, log.Append(second))

	records, err := log.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].TaskID)
	assert.Equal(t, "t2", records[1].TaskID)
	assert.Equal(t, "retries exhausted", records[1].Reason)
}
