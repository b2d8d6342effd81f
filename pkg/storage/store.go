package storage

import (
	"github.com/cuemby/fleet/pkg/types"
)

// Store defines the interface for control-plane state storage.
// It is implemented by BoltStore and, with raft replication, by manager.Manager.
type Store interface {
	// Universes
	CreateUniverse(universe *types.Universe) error
	// ImportUniverse creates the universe only if no universe has its UUID
	ImportUniverse(universe *types.Universe) error
	GetUniverse(id string) (*types.Universe, error)
	ListUniverses() ([]*types.Universe, error)
	UpdateUniverse(universe *types.Universe) error
	DeleteUniverse(id string) error

	// Universe lock. Acquire and release are atomic read-check-write operations.
	// override only takes over a lock whose owning task is no longer running.
	AcquireUniverseLock(universeID, taskID string, override bool) error
	ReleaseUniverseLock(universeID, taskID string, succeeded bool) error
	// UpdateUniverseLocked writes the universe only while taskID holds its lock
	UpdateUniverseLocked(universe *types.Universe, taskID string) error

	// Tasks
	CreateTask(task *types.TaskInfo) error
	GetTask(id string) (*types.TaskInfo, error)
	ListTasks() ([]*types.TaskInfo, error)
	ListTasksByUniverse(universeID string) ([]*types.TaskInfo, error)
	UpdateTask(task *types.TaskInfo) error
	SaveTaskProgress(taskID string, lastCompletedGroup int) error
	DeleteTask(id string) error

	// Utility
	Close() error
}
