package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResumer struct {
	running map[string]bool
	resumed []string
	err     error
}

func (f *fakeResumer) IsRunning(taskID string) bool { return f.running[taskID] }

func (f *fakeResumer) Resume(ctx context.Context, taskID string) error {
	if f.err != nil {
		return f.err
	}
	f.resumed = append(f.resumed, taskID)
	return nil
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReconcileResumesOrphanedTasks(t *testing.T) {
	store := newStore(t)
	for id, state := range map[string]types.TaskState{
		"orphan":   types.TaskStateRunning,
		"live":     types.TaskStateRunning,
		"failed":   types.TaskStateFailed,
		"finished": types.TaskStateSuccess,
	} {
		require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: id, UniverseUUID: "u1", State: state}))
	}

	resumer := &fakeResumer{running: map[string]bool{"live": true}}
	r := NewReconciler(store, resumer, DefaultConfig())
	require.NoError(t, r.Reconcile(context.Background()))

	assert.Equal(t, []string{"orphan"}, resumer.resumed)
}

func TestReconcileKeepsGoingWhenResumeFails(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: "orphan", UniverseUUID: "u1", State: types.TaskStateRunning}))

	resumer := &fakeResumer{err: errors.New("universe locked")}
	r := NewReconciler(store, resumer, DefaultConfig())
	assert.NoError(t, r.Reconcile(context.Background()))
}

func TestReconcileReleasesLeakedLocks(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.CreateUniverse(&types.Universe{UUID: "u1"}))
	require.NoError(t, store.CreateUniverse(&types.Universe{UUID: "u2"}))
	require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: "done", UniverseUUID: "u1", State: types.TaskStateSuccess}))
	require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: "busy", UniverseUUID: "u2", State: types.TaskStateRunning}))
	require.NoError(t, store.AcquireUniverseLock("u1", "done", false))
	require.NoError(t, store.AcquireUniverseLock("u2", "busy", false))

	resumer := &fakeResumer{running: map[string]bool{"busy": true}}
	r := NewReconciler(store, resumer, DefaultConfig())
	require.NoError(t, r.Reconcile(context.Background()))

	u1, err := store.GetUniverse("u1")
	require.NoError(t, err)
	assert.False(t, u1.UpdateInProgress)
	assert.True(t, u1.UpdateSucceeded)

	u2, err := store.GetUniverse("u2")
	require.NoError(t, err)
	assert.True(t, u2.UpdateInProgress)
}

func TestReconcileOnlyOnLeader(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: "orphan", UniverseUUID: "u1", State: types.TaskStateRunning}))

	resumer := &fakeResumer{}
	r := NewReconciler(store, resumer, Config{IsLeader: func() bool { return false }})
	require.NoError(t, r.Reconcile(context.Background()))
	assert.Empty(t, resumer.resumed)

	r.Start()
	r.Stop()
	r.Stop()
}
