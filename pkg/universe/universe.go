package universe

import (
	"fmt"
	"sync"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
)

// Repository hands out lock-scoped handles on universes
type Repository struct {
	store storage.Store
}

// NewRepository creates a repository over store
func NewRepository(store storage.Store) *Repository {
	return &Repository{store: store}
}

// Get returns a read-only snapshot of a universe
func (r *Repository) Get(universeID string) (*types.Universe, error) {
	return r.store.GetUniverse(universeID)
}

// Acquire takes the update lock of a universe on behalf of taskID.
// It fails with a Conflict error when another task holds the lock; override
// only takes over a lock whose owning task is no longer running.
// Re-acquiring a lock already held by taskID succeeds.
func (r *Repository) Acquire(universeID, taskID string, override bool) (*Handle, error) {
	if err := r.store.AcquireUniverseLock(universeID, taskID, override); err != nil {
		return nil, err
	}

	logger := log.WithUniverseID(universeID)
	logger.Debug().
		Str("task_id", taskID).
		Bool("override", override).
		Msg("Acquired universe lock")

	return &Handle{
		store:      r.store,
		universeID: universeID,
		taskID:     taskID,
	}, nil
}

// Handle is the only way a running task mutates its universe.
// Updates through one handle are serialized, so concurrent subtasks of a
// group can each change their own node without losing each other's writes.
type Handle struct {
	mu         sync.Mutex
	store      storage.Store
	universeID string
	taskID     string
	released   bool
}

// UniverseID returns the locked universe's ID
func (h *Handle) UniverseID() string {
	return h.universeID
}

// TaskID returns the ID of the task holding the lock
func (h *Handle) TaskID() string {
	return h.taskID
}

// Universe returns a fresh copy of the stored universe
func (h *Handle) Universe() (*types.Universe, error) {
	return h.store.GetUniverse(h.universeID)
}

// Update applies fn to the current universe and stores the result while the lock is held.
// If fn returns an error nothing is written.
func (h *Handle) Update(fn func(u *types.Universe) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return apierr.IllegalStatef("universe %s handle of task %s already released", h.universeID, h.taskID)
	}

	u, err := h.store.GetUniverse(h.universeID)
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}
	return h.store.UpdateUniverseLocked(u, h.taskID)
}

// UpdateNode applies fn to one node of the universe
func (h *Handle) UpdateNode(nodeName string, fn func(n *types.NodeDetails) error) error {
	return h.Update(func(u *types.Universe) error {
		node := u.Node(nodeName)
		if node == nil {
			return apierr.NotFoundf("node %s not found in universe %s", nodeName, u.UUID)
		}
		return fn(node)
	})
}

// SetNodeState records a node's lifecycle state
func (h *Handle) SetNodeState(nodeName string, state types.NodeState) error {
	return h.UpdateNode(nodeName, func(n *types.NodeDetails) error {
		n.State = state
		return nil
	})
}

// Release gives the lock up and records whether the task succeeded.
// Later calls are no-ops.
func (h *Handle) Release(succeeded bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	if err := h.store.ReleaseUniverseLock(h.universeID, h.taskID, succeeded); err != nil {
		return fmt.Errorf("failed to release universe %s: %w", h.universeID, err)
	}
	h.released = true

	logger := log.WithUniverseID(h.universeID)
	logger.Debug().
		Str("task_id", h.taskID).
		Bool("succeeded", succeeded).
		Msg("Released universe lock")
	return nil
}
