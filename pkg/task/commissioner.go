package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/events"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/cuemby/fleet/pkg/universe"
	"github.com/google/uuid"
)

var (
	errAborted  = errors.New("task aborted")
	errShutdown = errors.New("commissioner shutting down")
)

// Planner validates task parameters and turns them into a plan
type Planner interface {
	// Verify rejects parameters that can never produce a valid plan
	Verify(ctx context.Context, kind string, u *types.Universe, params json.RawMessage) error

	// Plan builds the ordered groups that move u to the state described by params
	Plan(ctx context.Context, kind string, u *types.Universe, params json.RawMessage) ([]*SubTaskGroup, error)
}

// Policy holds system-wide submission rules
type Policy struct {
	// AllowForceLockOverride lets a forced submission take over the lock of
	// a universe whose owning task is no longer running
	AllowForceLockOverride bool
}

// SubmitRequest asks for one maintenance task on a universe
type SubmitRequest struct {
	UniverseID string
	Kind       string
	Params     json.RawMessage

	// Force requests taking over a stale universe lock
	Force bool
}

type runningTask struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Commissioner accepts tasks, persists them and runs them in the background
type Commissioner struct {
	store    storage.Store
	repo     *universe.Repository
	planner  Planner
	executor *Executor
	broker   *events.Broker
	policy   Policy

	mu      sync.Mutex
	running map[string]*runningTask
	wg      sync.WaitGroup
	closed  bool
}

// NewCommissioner creates a commissioner. broker may be nil.
func NewCommissioner(store storage.Store, planner Planner, executor *Executor, broker *events.Broker, policy Policy) *Commissioner {
	return &Commissioner{
		store:    store,
		repo:     universe.NewRepository(store),
		planner:  planner,
		executor: executor,
		broker:   broker,
		policy:   policy,
		running:  make(map[string]*runningTask),
	}
}

// Plan returns the plan a submission would run without locking or executing anything
func (c *Commissioner) Plan(ctx context.Context, req SubmitRequest) ([]*SubTaskGroup, error) {
	u, err := c.repo.Get(req.UniverseID)
	if err != nil {
		return nil, err
	}
	if err := c.planner.Verify(ctx, req.Kind, u, req.Params); err != nil {
		return nil, err
	}
	return c.planner.Plan(ctx, req.Kind, u, req.Params)
}

// Submit verifies the request, locks the universe, persists the plan and
// starts running it. It returns the new task's ID.
func (c *Commissioner) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	u, err := c.repo.Get(req.UniverseID)
	if err != nil {
		return "", err
	}
	if err := c.planner.Verify(ctx, req.Kind, u, req.Params); err != nil {
		return "", err
	}
	if c.isClosed() {
		return "", apierr.IllegalStatef("commissioner is shutting down")
	}

	taskID := uuid.New().String()
	override := c.policy.AllowForceLockOverride && req.Force
	handle, err := c.repo.Acquire(u.UUID, taskID, override)
	if err != nil {
		return "", err
	}
	// Nothing has been mutated yet, so a failure below restores the previous outcome.
	previous := u.UpdateSucceeded

	locked, err := handle.Universe()
	if err != nil {
		_ = handle.Release(previous)
		return "", err
	}
	groups, err := c.planner.Plan(ctx, req.Kind, locked, req.Params)
	if err != nil {
		_ = handle.Release(previous)
		return "", err
	}
	plan, err := EncodePlan(groups)
	if err != nil {
		_ = handle.Release(previous)
		return "", apierr.Wrap(apierr.KindInternal, err, "encode plan")
	}

	now := time.Now()
	info := &types.TaskInfo{
		UUID:               taskID,
		UniverseUUID:       u.UUID,
		Kind:               req.Kind,
		State:              types.TaskStateRunning,
		Params:             req.Params,
		Plan:               plan,
		TotalGroups:        len(groups),
		LastCompletedGroup: -1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.store.CreateTask(info); err != nil {
		_ = handle.Release(previous)
		return "", err
	}

	logger := log.WithTaskID(taskID)
	logger.Info().
		Str("universe_id", u.UUID).
		Str("kind", req.Kind).
		Int("groups", len(groups)).
		Msg("Task submitted")
	c.publish(events.EventTaskCreated, info, "")

	rt := &RunnableTask{
		TaskID:     taskID,
		UniverseID: u.UUID,
		Kind:       req.Kind,
		Groups:     groups,
		IsFirstTry: true,
	}
	if err := c.start(rt, handle); err != nil {
		c.abandon(info, handle, previous, err)
		return "", err
	}
	return taskID, nil
}

// abandon records a persisted task that never started as Failed and unlocks
// its universe with the outcome it had before the submission
func (c *Commissioner) abandon(info *types.TaskInfo, handle *universe.Handle, previous bool, cause error) {
	logger := log.WithTaskID(info.UUID)

	now := time.Now()
	info.State = types.TaskStateFailed
	info.Error = cause.Error()
	info.CompletedAt = now
	info.UpdatedAt = now
	if err := c.store.UpdateTask(info); err != nil {
		logger.Error().Err(err).Msg("Failed to record task outcome")
	}
	if err := handle.Release(previous); err != nil {
		logger.Error().Err(err).Msg("Failed to release universe lock")
	}
	logger.Warn().Err(cause).Msg("Task was not started")
	c.publish(events.EventTaskFailed, info, info.Error)
}

// Resume retries a task from the group after its last completed one.
// The persisted plan is reused and steps already visible on the nodes are skipped.
func (c *Commissioner) Resume(ctx context.Context, taskID string) error {
	if c.IsRunning(taskID) {
		return apierr.Conflictf("task %s is already running", taskID)
	}

	info, err := c.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if info.State == types.TaskStateSuccess {
		return apierr.IllegalStatef("task %s already succeeded", taskID)
	}
	groups, err := DecodePlan(info.Plan)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "task %s", taskID)
	}

	handle, err := c.repo.Acquire(info.UniverseUUID, taskID, false)
	if err != nil {
		return err
	}

	info.State = types.TaskStateRunning
	info.RetryCount++
	info.Error = ""
	info.CompletedAt = time.Time{}
	info.UpdatedAt = time.Now()
	if err := c.store.UpdateTask(info); err != nil {
		_ = handle.Release(false)
		return err
	}

	logger := log.WithTaskID(taskID)
	logger.Info().
		Int("retry", info.RetryCount).
		Int("from_group", info.LastCompletedGroup+1).
		Msg("Resuming task")
	c.publish(events.EventTaskResumed, info, "")

	rt := &RunnableTask{
		TaskID:     taskID,
		UniverseID: info.UniverseUUID,
		Kind:       info.Kind,
		Groups:     groups,
		Position:   info.LastCompletedGroup + 1,
		RetryCount: info.RetryCount,
		IsFirstTry: false,
	}
	return c.start(rt, handle)
}

// Abort stops a running task before its next group. The task ends Aborted
// and the universe is unlocked with a failed outcome.
func (c *Commissioner) Abort(taskID string) error {
	c.mu.Lock()
	rt, ok := c.running[taskID]
	c.mu.Unlock()
	if !ok {
		return apierr.IllegalStatef("task %s is not running", taskID)
	}
	rt.cancel(errAborted)
	return nil
}

// Status returns the state of a task
func (c *Commissioner) Status(taskID string) (types.TaskState, error) {
	info, err := c.store.GetTask(taskID)
	if err != nil {
		return "", err
	}
	return info.State, nil
}

// Task returns the full record of a task
func (c *Commissioner) Task(taskID string) (*types.TaskInfo, error) {
	return c.store.GetTask(taskID)
}

func (c *Commissioner) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsRunning reports whether this process is executing the task
func (c *Commissioner) IsRunning(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[taskID]
	return ok
}

// Wait blocks until the task is no longer running in this process and
// returns its final record
func (c *Commissioner) Wait(ctx context.Context, taskID string) (*types.TaskInfo, error) {
	c.mu.Lock()
	rt, ok := c.running[taskID]
	c.mu.Unlock()

	if ok {
		select {
		case <-rt.done:
		case <-ctx.Done():
			return nil, apierr.Cancelled(ctx.Err(), "waiting for task %s", taskID)
		}
	}
	return c.store.GetTask(taskID)
}

// Shutdown stops every running task at its next group boundary and waits
// for them. Interrupted tasks stay Running with their lock held so they can
// be resumed after a restart.
func (c *Commissioner) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, rt := range c.running {
		rt.cancel(errShutdown)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apierr.Cancelled(ctx.Err(), "waiting for running tasks")
	}
}

func (c *Commissioner) start(rt *RunnableTask, handle *universe.Handle) error {
	ctx, cancel := context.WithCancelCause(context.Background())
	entry := &runningTask{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel(errShutdown)
		return apierr.IllegalStatef("commissioner is shutting down")
	}
	if _, ok := c.running[rt.TaskID]; ok {
		c.mu.Unlock()
		cancel(nil)
		return apierr.Conflictf("task %s is already running", rt.TaskID)
	}
	c.running[rt.TaskID] = entry
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer close(entry.done)
		defer func() {
			c.mu.Lock()
			delete(c.running, rt.TaskID)
			c.mu.Unlock()
		}()
		defer cancel(nil)

		timer := metrics.NewTimer()
		err := c.executor.Run(ctx, rt, handle)
		c.finish(rt, handle, err, context.Cause(ctx))
		timer.ObserveDurationVec(metrics.TaskDuration, rt.Kind)
	}()
	return nil
}

func (c *Commissioner) finish(rt *RunnableTask, handle *universe.Handle, runErr, cause error) {
	logger := log.WithTaskID(rt.TaskID)

	if runErr != nil && errors.Is(cause, errShutdown) {
		logger.Warn().Int("next_group", rt.Position).Msg("Task interrupted by shutdown, leaving it resumable")
		return
	}

	info, err := c.store.GetTask(rt.TaskID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load task record")
		return
	}

	eventType := events.EventTaskCompleted
	switch {
	case runErr == nil:
		info.State = types.TaskStateSuccess
	case errors.Is(cause, errAborted):
		info.State = types.TaskStateAborted
		info.Error = runErr.Error()
		eventType = events.EventTaskAborted
	default:
		info.State = types.TaskStateFailed
		info.Error = runErr.Error()
		eventType = events.EventTaskFailed
	}
	now := time.Now()
	info.CompletedAt = now
	info.UpdatedAt = now

	if err := c.store.UpdateTask(info); err != nil {
		logger.Error().Err(err).Msg("Failed to record task outcome")
	}
	if err := handle.Release(runErr == nil); err != nil {
		logger.Error().Err(err).Msg("Failed to release universe lock")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Str("state", string(info.State)).Msg("Task did not complete")
	} else {
		logger.Info().Msg("Task completed")
	}
	c.publish(eventType, info, info.Error)
}

func (c *Commissioner) publish(eventType events.EventType, info *types.TaskInfo, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"task_id":     info.UUID,
			"universe_id": info.UniverseUUID,
			"kind":        info.Kind,
			"state":       string(info.State),
		},
	})
}
