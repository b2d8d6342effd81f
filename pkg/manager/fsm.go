package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/hashicorp/raft"
)

// FleetFSM implements the Raft Finite State Machine for the control-plane state.
// It applies log entries to the local store and handles snapshots.
type FleetFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFleetFSM creates a new FSM instance
func NewFleetFSM(store storage.Store) *FleetFSM {
	return &FleetFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// lockCommand is the payload of lock acquire/release commands
type lockCommand struct {
	UniverseID string `json:"universe_id"`
	TaskID     string `json:"task_id"`
	Override   bool   `json:"override,omitempty"`
	Succeeded  bool   `json:"succeeded,omitempty"`
}

// lockedUpdateCommand is the payload of update_universe_locked
type lockedUpdateCommand struct {
	Universe *types.Universe `json:"universe"`
	TaskID   string          `json:"task_id"`
}

// progressCommand is the payload of save_task_progress
type progressCommand struct {
	TaskID             string `json:"task_id"`
	LastCompletedGroup int    `json:"last_completed_group"`
}

// Apply applies a Raft log entry to the FSM.
// Lock commands are evaluated here, so the log order decides who wins a lock race.
func (f *FleetFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Universe operations
	case "create_universe":
		var universe types.Universe
		if err := json.Unmarshal(cmd.Data, &universe); err != nil {
			return err
		}
		return f.store.CreateUniverse(&universe)

	case "import_universe":
		var universe types.Universe
		if err := json.Unmarshal(cmd.Data, &universe); err != nil {
			return err
		}
		return f.store.ImportUniverse(&universe)

	case "update_universe":
		var universe types.Universe
		if err := json.Unmarshal(cmd.Data, &universe); err != nil {
			return err
		}
		return f.store.UpdateUniverse(&universe)

	case "delete_universe":
		var universeID string
		if err := json.Unmarshal(cmd.Data, &universeID); err != nil {
			return err
		}
		return f.store.DeleteUniverse(universeID)

	case "acquire_universe_lock":
		var lc lockCommand
		if err := json.Unmarshal(cmd.Data, &lc); err != nil {
			return err
		}
		return f.store.AcquireUniverseLock(lc.UniverseID, lc.TaskID, lc.Override)

	case "release_universe_lock":
		var lc lockCommand
		if err := json.Unmarshal(cmd.Data, &lc); err != nil {
			return err
		}
		return f.store.ReleaseUniverseLock(lc.UniverseID, lc.TaskID, lc.Succeeded)

	case "update_universe_locked":
		var uc lockedUpdateCommand
		if err := json.Unmarshal(cmd.Data, &uc); err != nil {
			return err
		}
		if uc.Universe == nil {
			return fmt.Errorf("update_universe_locked without universe")
		}
		return f.store.UpdateUniverseLocked(uc.Universe, uc.TaskID)

	// Task operations
	case "create_task":
		var task types.TaskInfo
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.CreateTask(&task)

	case "update_task":
		var task types.TaskInfo
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.UpdateTask(&task)

	case "save_task_progress":
		var pc progressCommand
		if err := json.Unmarshal(cmd.Data, &pc); err != nil {
			return err
		}
		return f.store.SaveTaskProgress(pc.TaskID, pc.LastCompletedGroup)

	case "delete_task":
		var taskID string
		if err := json.Unmarshal(cmd.Data, &taskID); err != nil {
			return err
		}
		return f.store.DeleteTask(taskID)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *FleetFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	universes, err := f.store.ListUniverses()
	if err != nil {
		return nil, fmt.Errorf("failed to list universes: %v", err)
	}

	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %v", err)
	}

	return &FleetSnapshot{
		Universes: universes,
		Tasks:     tasks,
	}, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *FleetFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot FleetSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, universe := range snapshot.Universes {
		if err := f.store.CreateUniverse(universe); err != nil {
			return fmt.Errorf("failed to restore universe: %v", err)
		}
	}

	for _, task := range snapshot.Tasks {
		if err := f.store.CreateTask(task); err != nil {
			return fmt.Errorf("failed to restore task: %v", err)
		}
	}

	return nil
}

// FleetSnapshot represents a point-in-time snapshot of control-plane state
type FleetSnapshot struct {
	Universes []*types.Universe
	Tasks     []*types.TaskInfo
}

// Persist writes the snapshot to the given SnapshotSink
func (s *FleetSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		// Encode snapshot as JSON
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *FleetSnapshot) Release() {}
