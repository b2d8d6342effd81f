package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/backup"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	store     storage.Store
	submitErr error
	submitted []task.SubmitRequest
	resumed   []string
	aborted   []string
}

func (f *fakeTasks) Plan(ctx context.Context, req task.SubmitRequest) ([]*task.SubTaskGroup, error) {
	return []*task.SubTaskGroup{
		task.NewGroup("Preflight", task.GroupPreflightChecks),
		task.NewGroup("Persist", task.GroupPersistingIntent),
	}, nil
}

func (f *fakeTasks) Submit(ctx context.Context, req task.SubmitRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return "task-1", nil
}

func (f *fakeTasks) Resume(ctx context.Context, taskID string) error {
	f.resumed = append(f.resumed, taskID)
	return nil
}

func (f *fakeTasks) Abort(taskID string) error {
	if taskID == "idle" {
		return apierr.IllegalStatef("task %s is not running", taskID)
	}
	f.aborted = append(f.aborted, taskID)
	return nil
}

func (f *fakeTasks) Task(taskID string) (*types.TaskInfo, error) {
	return f.store.GetTask(taskID)
}

type fakeBackups struct {
	keyspaces []string
	location  string
	restore   bool
}

func (f *fakeBackups) Backup(ctx context.Context, u *types.Universe, keyspaces []string, location string) ([]backup.Result, error) {
	f.keyspaces, f.location = keyspaces, location
	results := make([]backup.Result, 0, len(keyspaces))
	for _, ks := range keyspaces {
		results = append(results, backup.Result{Keyspace: ks, Address: "10.0.0.1", Location: location + "/" + ks, Duration: time.Second})
	}
	return results, nil
}

func (f *fakeBackups) Restore(ctx context.Context, u *types.Universe, keyspaces []string, location string) ([]backup.Result, error) {
	f.restore = true
	return []backup.Result{{Keyspace: keyspaces[0], Location: location, Err: errors.New("restore failed")}},
		apierr.Internalf("restore of %s failed", keyspaces[0])
}

type fakeRaft struct {
	leader     bool
	leaderAddr string
}

func (f fakeRaft) IsLeader() bool     { return f.leader }
func (f fakeRaft) LeaderAddr() string { return f.leaderAddr }

func newTestServer(t *testing.T, cfg Config, raft RaftStatus) (*Server, *fakeTasks, *fakeBackups, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tasks := &fakeTasks{store: store}
	backups := &fakeBackups{}
	return NewServer(store, tasks, backups, raft, cfg), tasks, backups, store
}

func testUniverse(id string) *types.Universe {
	return &types.Universe{
		UUID: id,
		Name: "universe-" + id,
		Clusters: []*types.Cluster{{
			UUID:       "c1",
			Type:       types.ClusterTypePrimary,
			UserIntent: &types.UserIntent{ProviderType: types.ProviderType("aws"), InstanceType: "c5.large"},
		}},
		Nodes: []*types.NodeDetails{{
			Name: "n1", ClusterUUID: "c1", IsMaster: true, IsTserver: true,
			State: types.NodeStateLive, PrivateIP: "10.0.0.1",
		}},
	}
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name       string
		raft       RaftStatus
		wantStatus int
		wantRaft   string
	}{
		{name: "standalone", raft: nil, wantStatus: http.StatusOK, wantRaft: "standalone"},
		{name: "leader", raft: fakeRaft{leader: true}, wantStatus: http.StatusOK, wantRaft: "leader"},
		{name: "follower", raft: fakeRaft{leaderAddr: "10.0.0.9:7946"}, wantStatus: http.StatusOK, wantRaft: "follower (leader: 10.0.0.9:7946)"},
		{name: "no leader", raft: fakeRaft{}, wantStatus: http.StatusServiceUnavailable, wantRaft: "no leader elected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _, _ := newTestServer(t, Config{}, tt.raft)

			w := do(t, s, http.MethodGet, "/ready", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantRaft, resp.Checks["raft"])
			assert.Equal(t, "ok", resp.Checks["storage"])
			assert.False(t, resp.Timestamp.IsZero())
		})
	}
}

func TestRoutes(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{}, nil)

	tests := []struct {
		method         string
		path           string
		expectedStatus int
	}{
		{method: http.MethodGet, path: "/live", expectedStatus: http.StatusOK},
		{method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusOK},
		{method: http.MethodGet, path: "/v1/universes", expectedStatus: http.StatusOK},
		{method: http.MethodGet, path: "/v1/tasks", expectedStatus: http.StatusOK},
		{method: http.MethodPost, path: "/ready", expectedStatus: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestUniverseImport(t *testing.T) {
	s, _, _, store := newTestServer(t, Config{}, nil)

	u := testUniverse("u1")
	u.UpdateInProgress = true
	u.UpdatingTaskUUID = "stale"

	w := do(t, s, http.MethodPost, "/v1/universes", u)
	require.Equal(t, http.StatusCreated, w.Code)

	stored, err := store.GetUniverse("u1")
	require.NoError(t, err)
	assert.False(t, stored.UpdateInProgress, "imported universes start unlocked")
	assert.Empty(t, stored.UpdatingTaskUUID)
	assert.Len(t, stored.Nodes, 1)

	w = do(t, s, http.MethodGet, "/v1/universes/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got types.Universe
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "universe-u1", got.Name)

	w = do(t, s, http.MethodPost, "/v1/universes", u)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(apierr.KindConflict), decodeError(t, w).Kind)
}

func TestUniverseImportValidation(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{}, nil)

	noPrimary := testUniverse("u2")
	noPrimary.Clusters[0].Type = types.ClusterTypeAsync

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing uuid", body: &types.Universe{Name: "x"}},
		{name: "no primary cluster", body: noPrimary},
		{name: "not json", body: "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/v1/universes", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, string(apierr.KindBadRequest), decodeError(t, w).Kind)
		})
	}
}

func TestGetUnknownUniverse(t *testing.T) {
	s, _, _, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodGet, "/v1/universes/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/v1/universes/missing/tasks", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitTask(t *testing.T) {
	s, tasks, _, _ := newTestServer(t, Config{}, nil)

	body := &SubmitRequest{
		UniverseID: "u1",
		Kind:       "GFlagsUpgrade",
		Params:     json.RawMessage(`{"clusters":[]}`),
		Force:      true,
	}
	w := do(t, s, http.MethodPost, "/v1/tasks", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SubmitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "task-1", resp.TaskID)

	require.Len(t, tasks.submitted, 1)
	assert.Equal(t, "u1", tasks.submitted[0].UniverseID)
	assert.True(t, tasks.submitted[0].Force)
	assert.JSONEq(t, `{"clusters":[]}`, string(tasks.submitted[0].Params))
}

func TestSubmitTaskErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       *SubmitRequest
		submitErr  error
		wantStatus int
		wantKind   apierr.Kind
	}{
		{
			name:       "missing kind",
			body:       &SubmitRequest{UniverseID: "u1"},
			wantStatus: http.StatusBadRequest,
			wantKind:   apierr.KindBadRequest,
		},
		{
			name:       "universe locked",
			body:       &SubmitRequest{UniverseID: "u1", Kind: "Resize"},
			submitErr:  apierr.Conflictf("universe u1 is already being updated"),
			wantStatus: http.StatusConflict,
			wantKind:   apierr.KindConflict,
		},
		{
			name:       "unclassified failure",
			body:       &SubmitRequest{UniverseID: "u1", Kind: "Resize"},
			submitErr:  errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   apierr.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tasks, _, _ := newTestServer(t, Config{}, nil)
			tasks.submitErr = tt.submitErr

			w := do(t, s, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.wantKind), decodeError(t, w).Kind)
		})
	}
}

func TestPlanTask(t *testing.T) {
	s, tasks, _, _ := newTestServer(t, Config{}, nil)

	w := do(t, s, http.MethodPost, "/v1/plans", &SubmitRequest{UniverseID: "u1", Kind: "Resize"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp PlanResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Groups, 2)
	assert.Equal(t, task.GroupPreflightChecks, resp.Groups[0].Type)
	assert.Empty(t, tasks.submitted, "planning never submits")
}

func TestTaskEndpoints(t *testing.T) {
	s, tasks, _, store := newTestServer(t, Config{}, nil)

	now := time.Now()
	require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: "old", UniverseUUID: "u1", State: types.TaskStateSuccess, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateTask(&types.TaskInfo{UUID: "new", UniverseUUID: "u1", State: types.TaskStateFailed, CreatedAt: now}))

	w := do(t, s, http.MethodGet, "/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []*types.TaskInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&all))
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].UUID, "newest first")

	w = do(t, s, http.MethodGet, "/v1/tasks?state=Failed", nil)
	var failed []*types.TaskInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&failed))
	require.Len(t, failed, 1)
	assert.Equal(t, "new", failed[0].UUID)

	w = do(t, s, http.MethodGet, "/v1/tasks/new", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/v1/tasks/new/resume", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"new"}, tasks.resumed)

	w = do(t, s, http.MethodPost, "/v1/tasks/idle/abort", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(apierr.KindIllegalState), decodeError(t, w).Kind)
}

func TestReadOnlyGuard(t *testing.T) {
	s, tasks, _, _ := newTestServer(t, Config{ReadOnly: true}, nil)

	w := do(t, s, http.MethodPost, "/v1/tasks", &SubmitRequest{UniverseID: "u1", Kind: "Resize"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, tasks.submitted)

	w = do(t, s, http.MethodPost, "/v1/universes", testUniverse("u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodGet, "/v1/universes", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBackupEndpoints(t *testing.T) {
	s, _, backups, store := newTestServer(t, Config{}, nil)
	require.NoError(t, store.CreateUniverse(testUniverse("u1")))

	w := do(t, s, http.MethodPost, "/v1/universes/u1/backup", &BackupRequest{
		Keyspaces: []string{"orders", "users"},
		Location:  "s3://bucket/nightly",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BackupResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "s3://bucket/nightly/orders", resp.Results[0].Location)
	assert.Equal(t, "1s", resp.Results[0].Duration)
	assert.Equal(t, []string{"orders", "users"}, backups.keyspaces)

	w = do(t, s, http.MethodPost, "/v1/universes/u1/restore", &BackupRequest{Keyspaces: []string{"orders"}, Location: "s3://bucket/nightly"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "restore failed", resp.Results[0].Error)
	assert.True(t, backups.restore)

	w = do(t, s, http.MethodPost, "/v1/universes/missing/backup", &BackupRequest{Keyspaces: []string{"orders"}, Location: "s3://b"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBackupNotConfigured(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	s := NewServer(store, &fakeTasks{store: store}, nil, nil, Config{})
	w := do(t, s, http.MethodPost, "/v1/universes/u1/backup", &BackupRequest{Keyspaces: []string{"orders"}, Location: "s3://b"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(apierr.KindIllegalState), decodeError(t, w).Kind)
}
