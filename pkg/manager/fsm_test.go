package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*FleetFSM, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewFleetFSM(store), store
}

func applyCmd(t *testing.T, fsm *FleetFSM, op string, v interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	raw, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: raw})
}

func asError(resp interface{}) error {
	if resp == nil {
		return nil
	}
	err, _ := resp.(error)
	return err
}

func TestFSMApplyUniverseAndLock(t *testing.T) {
	fsm, store := newTestFSM(t)

	universe := &types.Universe{UUID: "u1", Name: "orders"}
	require.NoError(t, asError(applyCmd(t, fsm, "create_universe", universe)))

	require.NoError(t, asError(applyCmd(t, fsm, "acquire_universe_lock",
		lockCommand{UniverseID: "u1", TaskID: "t1"})))

	// second task is rejected by the FSM itself
	err := asError(applyCmd(t, fsm, "acquire_universe_lock", lockCommand{UniverseID: "u1", TaskID: "t2"}))
	require.Error(t, err)
	assert.True(t, apierr.IsConflict(err))

	got, err := store.GetUniverse("u1")
	require.NoError(t, err)
	assert.True(t, got.UpdateInProgress)
	assert.Equal(t, "t1", got.UpdatingTaskUUID)

	got.Name = "orders-renamed"
	require.NoError(t, asError(applyCmd(t, fsm, "update_universe_locked",
		lockedUpdateCommand{Universe: got, TaskID: "t1"})))

	require.NoError(t, asError(applyCmd(t, fsm, "release_universe_lock",
		lockCommand{UniverseID: "u1", TaskID: "t1", Succeeded: true})))

	got, err = store.GetUniverse("u1")
	require.NoError(t, err)
	assert.Equal(t, "orders-renamed", got.Name)
	assert.False(t, got.UpdateInProgress)
	assert.True(t, got.UpdateSucceeded)
}

func TestFSMApplyImportUniverse(t *testing.T) {
	fsm, store := newTestFSM(t)

	require.NoError(t, asError(applyCmd(t, fsm, "import_universe", &types.Universe{UUID: "u1", Name: "orders"})))
	require.NoError(t, asError(applyCmd(t, fsm, "acquire_universe_lock",
		lockCommand{UniverseID: "u1", TaskID: "t1"})))

	err := asError(applyCmd(t, fsm, "import_universe", &types.Universe{UUID: "u1", Name: "orders-copy"}))
	require.Error(t, err)
	assert.True(t, apierr.IsConflict(err))

	got, err := store.GetUniverse("u1")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, "t1", got.UpdatingTaskUUID)
}

func TestFSMApplyTaskProgress(t *testing.T) {
	fsm, store := newTestFSM(t)

	task := &types.TaskInfo{UUID: "t1", UniverseUUID: "u1", Kind: "Resize",
		State: types.TaskStateRunning, LastCompletedGroup: -1}
	require.NoError(t, asError(applyCmd(t, fsm, "create_task", task)))
	require.NoError(t, asError(applyCmd(t, fsm, "save_task_progress",
		progressCommand{TaskID: "t1", LastCompletedGroup: 4})))

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.LastCompletedGroup)

	require.NoError(t, asError(applyCmd(t, fsm, "delete_task", "t1")))
	_, err = store.GetTask("t1")
	assert.True(t, apierr.IsNotFound(err))
}

func TestFSMApplyUnknownCommand(t *testing.T) {
	fsm, _ := newTestFSM(t)

	err := asError(applyCmd(t, fsm, "create_service", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	resp := fsm.Apply(&raft.Log{Data: []byte("not json")})
	assert.Error(t, asError(resp))
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "mem" }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
func (s *memorySink) Close() error  { return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	fsm, _ := newTestFSM(t)

	require.NoError(t, asError(applyCmd(t, fsm, "create_universe", &types.Universe{UUID: "u1", Name: "a"})))
	require.NoError(t, asError(applyCmd(t, fsm, "create_universe", &types.Universe{UUID: "u2", Name: "b"})))
	require.NoError(t, asError(applyCmd(t, fsm, "create_task", &types.TaskInfo{UUID: "t1", UniverseUUID: "u1"})))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	restored, store := newTestFSM(t)
	require.NoError(t, restored.Restore(io.NopCloser(&sink.Buffer)))

	universes, err := store.ListUniverses()
	require.NoError(t, err)
	assert.Len(t, universes, 2)

	tasks, err := store.ListTasksByUniverse("u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].UUID)
}
