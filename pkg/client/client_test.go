package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/fleet/pkg/api"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeTasks finishes every submission immediately so clients can wait on it
type storeTasks struct {
	store storage.Store
}

func (s *storeTasks) Plan(ctx context.Context, req task.SubmitRequest) ([]*task.SubTaskGroup, error) {
	if _, err := s.store.GetUniverse(req.UniverseID); err != nil {
		return nil, err
	}
	return []*task.SubTaskGroup{task.NewGroup("Persist", task.GroupPersistingIntent)}, nil
}

func (s *storeTasks) Submit(ctx context.Context, req task.SubmitRequest) (string, error) {
	u, err := s.store.GetUniverse(req.UniverseID)
	if err != nil {
		return "", err
	}
	if u.UpdateInProgress {
		return "", apierr.Conflictf("universe %s is already being updated", u.UUID)
	}
	info := &types.TaskInfo{
		UUID:         "t-" + req.Kind,
		UniverseUUID: u.UUID,
		Kind:         req.Kind,
		State:        types.TaskStateSuccess,
		CreatedAt:    time.Now(),
	}
	return info.UUID, s.store.CreateTask(info)
}

func (s *storeTasks) Resume(ctx context.Context, taskID string) error {
	info, err := s.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if info.State == types.TaskStateSuccess {
		return apierr.IllegalStatef("task %s already succeeded", taskID)
	}
	return nil
}

func (s *storeTasks) Abort(taskID string) error {
	return apierr.IllegalStatef("task %s is not running", taskID)
}

func (s *storeTasks) Task(taskID string) (*types.TaskInfo, error) {
	return s.store.GetTask(taskID)
}

func newTestClient(t *testing.T, cfg api.Config) (*Client, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := httptest.NewServer(api.NewServer(store, &storeTasks{store: store}, nil, nil, cfg).Handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c, store
}

func universe(id string) *types.Universe {
	return &types.Universe{
		UUID: id,
		Name: id,
		Clusters: []*types.Cluster{{
			UUID:       "c1",
			Type:       types.ClusterTypePrimary,
			UserIntent: &types.UserIntent{InstanceType: "c5.large"},
		}},
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{addr: "https://fleet.example.com/", want: "https://fleet.example.com"},
		{addr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := NewClient(tt.addr)
			if tt.wantErr {
				assert.True(t, apierr.IsBadRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}

func TestUniverseLifecycle(t *testing.T) {
	c, _ := newTestClient(t, api.Config{})
	ctx := context.Background()

	created, err := c.ImportUniverse(ctx, universe("u1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", created.UUID)
	assert.True(t, created.UpdateSucceeded)

	got, err := c.GetUniverse(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c5.large", got.Clusters[0].UserIntent.InstanceType)

	all, err := c.ListUniverses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = c.ImportUniverse(ctx, universe("u1"))
	assert.True(t, apierr.IsConflict(err), "got %v", err)

	_, err = c.GetUniverse(ctx, "missing")
	assert.True(t, apierr.IsNotFound(err), "got %v", err)
}

func TestSubmitAndWait(t *testing.T) {
	c, store := newTestClient(t, api.Config{})
	ctx := context.Background()
	require.NoError(t, store.CreateUniverse(universe("u1")))

	groups, err := c.Plan(ctx, &api.SubmitRequest{UniverseID: "u1", Kind: "Resize", Params: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, task.GroupPersistingIntent, groups[0].Type)

	taskID, err := c.Submit(ctx, &api.SubmitRequest{UniverseID: "u1", Kind: "Resize", Params: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "t-Resize", taskID)

	info, err := c.WaitForTask(ctx, taskID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateSuccess, info.State)

	tasks, err := c.ListTasks(ctx, "u1", types.TaskStateSuccess)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = c.ListTasks(ctx, "", types.TaskStateFailed)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	err = c.Resume(ctx, taskID)
	assert.True(t, apierr.IsIllegalState(err), "got %v", err)

	err = c.Abort(ctx, taskID)
	assert.True(t, apierr.IsIllegalState(err), "got %v", err)
}

func TestErrorsKeepTheirKind(t *testing.T) {
	c, store := newTestClient(t, api.Config{})
	ctx := context.Background()

	locked := universe("u1")
	locked.UpdateInProgress = true
	require.NoError(t, store.CreateUniverse(locked))

	_, err := c.Submit(ctx, &api.SubmitRequest{UniverseID: "u1", Kind: "Resize"})
	assert.True(t, apierr.IsConflict(err), "got %v", err)

	_, err = c.Submit(ctx, &api.SubmitRequest{UniverseID: "u1"})
	assert.True(t, apierr.IsBadRequest(err), "got %v", err)

	_, err = c.GetTask(ctx, "missing")
	assert.True(t, apierr.IsNotFound(err), "got %v", err)
}

func TestReadOnlyServer(t *testing.T) {
	c, _ := newTestClient(t, api.Config{ReadOnly: true})

	_, err := c.ImportUniverse(context.Background(), universe("u1"))
	require.Error(t, err)
	assert.True(t, apierr.IsBadRequest(err))
	assert.Contains(t, err.Error(), "read-only")
}

func TestBackupWithoutRunner(t *testing.T) {
	c, store := newTestClient(t, api.Config{})
	require.NoError(t, store.CreateUniverse(universe("u1")))

	_, err := c.Backup(context.Background(), "u1", &api.BackupRequest{Keyspaces: []string{"orders"}, Location: "s3://b"})
	assert.True(t, apierr.IsIllegalState(err), "got %v", err)
}

func TestCallHonorsContext(t *testing.T) {
	c, _ := newTestClient(t, api.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListUniverses(ctx)
	assert.True(t, apierr.IsCancelled(err), "got %v", err)
}
