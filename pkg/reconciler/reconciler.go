package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/rs/zerolog"
)

// Resumer continues tasks that were interrupted
type Resumer interface {
	IsRunning(taskID string) bool
	Resume(ctx context.Context, taskID string) error
}

// Config configures the reconciliation loop
type Config struct {
	// Interval between reconciliation cycles
	Interval time.Duration

	// IsLeader limits reconciliation to one control-plane member. Nil means always.
	IsLeader func() bool
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second}
}

// Reconciler repairs task state left behind by a crashed control plane.
// Tasks recorded as Running that no executor is running are resumed from
// their last completed group, and universe locks still held by tasks that
// already finished are released.
type Reconciler struct {
	store   storage.Store
	resumer Resumer
	cfg     Config
	logger  zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Store, resumer Resumer, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Reconciler{
		store:   store,
		resumer: resumer,
		cfg:     cfg,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if r.cfg.IsLeader != nil && !r.cfg.IsLeader() {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	tasks, err := r.store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	r.resumeOrphans(ctx, tasks)

	if err := r.releaseLeakedLocks(tasks); err != nil {
		return err
	}
	return nil
}

// resumeOrphans resumes Running tasks that nothing executes
func (r *Reconciler) resumeOrphans(ctx context.Context, tasks []*types.TaskInfo) {
	for _, t := range tasks {
		if t.State != types.TaskStateRunning || r.resumer.IsRunning(t.UUID) {
			continue
		}

		logger := log.WithTaskID(t.UUID)
		if err := r.resumer.Resume(ctx, t.UUID); err != nil {
			logger.Error().Err(err).Msg("Failed to resume interrupted task")
			continue
		}
		metrics.TasksResumed.Inc()
		logger.Info().
			Str("universe_id", t.UniverseUUID).
			Int("from_group", t.LastCompletedGroup+1).
			Msg("Resumed interrupted task")
	}
}

// releaseLeakedLocks unlocks universes whose owning task has already finished
func (r *Reconciler) releaseLeakedLocks(tasks []*types.TaskInfo) error {
	byID := make(map[string]*types.TaskInfo, len(tasks))
	for _, t := range tasks {
		byID[t.UUID] = t
	}

	universes, err := r.store.ListUniverses()
	if err != nil {
		return fmt.Errorf("failed to list universes: %w", err)
	}

	for _, u := range universes {
		if !u.UpdateInProgress {
			continue
		}
		owner, ok := byID[u.UpdatingTaskUUID]
		if !ok || !owner.State.Terminal() {
			continue
		}

		succeeded := owner.State == types.TaskStateSuccess
		if err := r.store.ReleaseUniverseLock(u.UUID, owner.UUID, succeeded); err != nil {
			r.logger.Error().Err(err).Str("universe_id", u.UUID).Msg("Failed to release leaked lock")
			continue
		}
		r.logger.Warn().
			Str("universe_id", u.UUID).
			Str("task_id", owner.UUID).
			Str("task_state", string(owner.State)).
			Msg("Released universe lock held by a finished task")
	}
	return nil
}
