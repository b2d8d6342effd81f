package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/backup"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/rs/zerolog"
)

// TaskService submits and controls maintenance tasks
type TaskService interface {
	Plan(ctx context.Context, req task.SubmitRequest) ([]*task.SubTaskGroup, error)
	Submit(ctx context.Context, req task.SubmitRequest) (string, error)
	Resume(ctx context.Context, taskID string) error
	Abort(taskID string) error
	Task(taskID string) (*types.TaskInfo, error)
}

// BackupService runs keyspace backups and restores
type BackupService interface {
	Backup(ctx context.Context, u *types.Universe, keyspaces []string, location string) ([]backup.Result, error)
	Restore(ctx context.Context, u *types.Universe, keyspaces []string, location string) ([]backup.Result, error)
}

// RaftStatus reports the replication state of this control-plane member
type RaftStatus interface {
	IsLeader() bool
	LeaderAddr() string
}

// Config configures the API server
type Config struct {
	Addr string

	// ReadOnly rejects every request that would change state
	ReadOnly bool
}

// Server serves the fleet HTTP API together with health and metrics endpoints
type Server struct {
	store   storage.Store
	tasks   TaskService
	backups BackupService
	raft    RaftStatus
	cfg     Config

	mux    *http.ServeMux
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates an API server. backups and raft may be nil.
func NewServer(store storage.Store, tasks TaskService, backups BackupService, raft RaftStatus, cfg Config) *Server {
	s := &Server{
		store:   store,
		tasks:   tasks,
		backups: backups,
		raft:    raft,
		cfg:     cfg,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("api"),
	}

	s.mux.HandleFunc("GET /health", metrics.HealthHandler())
	s.mux.HandleFunc("GET /live", metrics.LivenessHandler())
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.route("GET /v1/universes", "list_universes", s.listUniverses)
	s.route("POST /v1/universes", "create_universe", s.createUniverse)
	s.route("GET /v1/universes/{id}", "get_universe", s.getUniverse)
	s.route("GET /v1/universes/{id}/tasks", "list_universe_tasks", s.listUniverseTasks)
	s.route("POST /v1/universes/{id}/backup", "backup", s.backupHandler(false))
	s.route("POST /v1/universes/{id}/restore", "restore", s.backupHandler(true))

	s.route("GET /v1/tasks", "list_tasks", s.listTasks)
	s.route("POST /v1/tasks", "submit_task", s.submitTask)
	s.route("GET /v1/tasks/{id}", "get_task", s.getTask)
	s.route("POST /v1/tasks/{id}/resume", "resume_task", s.resumeTask)
	s.route("POST /v1/tasks/{id}/abort", "abort_task", s.abortTask)
	s.route("POST /v1/plans", "plan", s.planTask)

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves until Stop is called
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "listen on %s", s.cfg.Addr)
	}
	return s.Serve(lis)
}

// Serve serves the API on lis
func (s *Server) Serve(lis net.Listener) error {
	s.http = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metrics.UpdateComponent("api", true, "listening on "+lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Bool("read_only", s.cfg.ReadOnly).Msg("API server listening")

	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent("api", false, err.Error())
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "stopped")
	return s.http.Shutdown(ctx)
}

func (s *Server) listUniverses(w http.ResponseWriter, r *http.Request) {
	universes, err := s.store.ListUniverses()
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Slice(universes, func(i, j int) bool { return universes[i].Name < universes[j].Name })
	writeJSON(w, http.StatusOK, universes)
}

func (s *Server) createUniverse(w http.ResponseWriter, r *http.Request) {
	var u types.Universe
	if err := decodeBody(r, &u); err != nil {
		writeError(w, err)
		return
	}
	if u.UUID == "" || u.Name == "" {
		writeError(w, apierr.BadRequestf("universe needs a uuid and a name"))
		return
	}
	if len(u.Clusters) == 0 || u.PrimaryCluster() == nil {
		writeError(w, apierr.BadRequestf("universe %s has no primary cluster", u.UUID))
		return
	}

	// Lock state is owned by the commissioner and never imported
	u.UpdateInProgress = false
	u.UpdatingTaskUUID = ""
	u.UpdateSucceeded = true
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	if err := s.store.ImportUniverse(&u); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info().Str("universe_id", u.UUID).Str("name", u.Name).Int("nodes", len(u.Nodes)).Msg("Universe imported")
	writeJSON(w, http.StatusCreated, &u)
}

func (s *Server) getUniverse(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUniverse(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) listUniverseTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetUniverse(id); err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.store.ListTasksByUniverse(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sortTasks(tasks))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		writeError(w, err)
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.State) == state {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSON(w, http.StatusOK, sortTasks(tasks))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	info, err := s.tasks.Task(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, &SubmitResponse{TaskID: taskID})
}

func (s *Server) planTask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	groups, err := s.tasks.Plan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &PlanResponse{Groups: groups})
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tasks.Resume(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, &SubmitResponse{TaskID: id})
}

func (s *Server) abortTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tasks.Abort(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, &SubmitResponse{TaskID: id})
}

func (s *Server) backupHandler(restore bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.backups == nil {
			writeError(w, apierr.IllegalStatef("backups are not configured on this server"))
			return
		}
		var req BackupRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		u, err := s.store.GetUniverse(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}

		// Keyspace runs poll for minutes; lift the server write deadline for this response
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		run := s.backups.Backup
		if restore {
			run = s.backups.Restore
		}
		results, err := run(r.Context(), u, req.Keyspaces, req.Location)
		if err != nil && len(results) == 0 {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if err != nil {
			status = apierr.StatusCode(err)
		}
		writeJSON(w, status, &BackupResponse{Results: toBackupResults(results)})
	}
}

func decodeSubmit(r *http.Request) (task.SubmitRequest, error) {
	var body SubmitRequest
	if err := decodeBody(r, &body); err != nil {
		return task.SubmitRequest{}, err
	}
	if body.UniverseID == "" || body.Kind == "" {
		return task.SubmitRequest{}, apierr.BadRequestf("universeId and kind are required")
	}
	return task.SubmitRequest{
		UniverseID: body.UniverseID,
		Kind:       body.Kind,
		Params:     body.Params,
		Force:      body.Force,
	}, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.KindBadRequest, err, "decode request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.StatusCode(err), &ErrorResponse{
		Kind:  string(apierr.KindOf(err)),
		Error: err.Error(),
	})
}

func sortTasks(tasks []*types.TaskInfo) []*types.TaskInfo {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks
}

func toBackupResults(results []backup.Result) []BackupResult {
	out := make([]BackupResult, 0, len(results))
	for _, res := range results {
		br := BackupResult{
			Keyspace: res.Keyspace,
			Address:  res.Address,
			Location: res.Location,
			Duration: res.Duration.String(),
		}
		if res.Err != nil {
			br.Error = res.Err.Error()
		}
		out = append(out, br)
	}
	return out
}
