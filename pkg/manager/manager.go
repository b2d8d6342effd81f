package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/fleet/pkg/events"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager is a control-plane node that replicates universe and task state with Raft.
// Writes go through the Raft log; reads are served from the local store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FleetFSM
	store       storage.Store
	eventBroker *events.Broker

	shutdownOnce sync.Once
	shutdownErr  error
}

var _ storage.Store = (*Manager)(nil)

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	// Create BoltDB store
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	// Create event broker
	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         NewFleetFSM(store),
		store:       store,
		eventBroker: eventBroker,
	}

	return m, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Control-plane nodes sit on a LAN next to each other; fail over in a few seconds
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

// Bootstrap starts Raft on this node. A node without existing Raft state
// bootstraps a single-node cluster; a node restarting reuses its log.
func (m *Manager) Bootstrap() error {
	config := raftConfig(m.nodeID)

	// Setup Raft communication
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %v", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %v", err)
	}

	// Create snapshot store
	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %v", err)
	}

	// Create log store and stable store using BoltDB
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %v", err)
	}

	existing, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return fmt.Errorf("failed to inspect raft state: %v", err)
	}

	// Create Raft instance
	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}

	m.raft = r

	if existing {
		log.Logger.Info().Str("node_id", m.nodeID).Msg("Restarting raft from existing state")
		return nil
	}

	// Bootstrap cluster with this node as the only member
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	log.Logger.Info().Str("node_id", m.nodeID).Str("addr", m.bindAddr).Msg("Bootstrapped raft cluster")
	return nil
}

// WaitForLeader blocks until this node knows a leader or ctx is done
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.LeaderAddr() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no raft leader elected: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}

	log.Logger.Info().Str("voter_id", nodeID).Str("addr", address).Msg("Added voter to cluster")
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %v", err)
	}

	return nil
}

// GetClusterServers returns information about all servers in the Raft cluster
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}

	return future.Configuration().Servers, nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())

	if servers, err := m.GetClusterServers(); err == nil {
		stats["peers"] = uint64(len(servers))
	}

	return stats
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %v", err)
	}

	// FSM errors carry their apierr kind back to the caller
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) applyOp(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// CreateUniverse registers a universe
func (m *Manager) CreateUniverse(universe *types.Universe) error {
	if err := m.applyOp("create_universe", universe); err != nil {
		return err
	}
	m.eventBroker.Publish(&events.Event{
		Type:     events.EventUniverseCreated,
		Message:  fmt.Sprintf("universe %s created", universe.Name),
		Metadata: map[string]string{"universe_id": universe.UUID},
	})
	return nil
}

// ImportUniverse registers a universe unless its UUID is already taken
func (m *Manager) ImportUniverse(universe *types.Universe) error {
	if err := m.applyOp("import_universe", universe); err != nil {
		return err
	}
	m.eventBroker.Publish(&events.Event{
		Type:     events.EventUniverseCreated,
		Message:  fmt.Sprintf("universe %s imported", universe.Name),
		Metadata: map[string]string{"universe_id": universe.UUID},
	})
	return nil
}

// UpdateUniverse replaces a universe record
func (m *Manager) UpdateUniverse(universe *types.Universe) error {
	if err := m.applyOp("update_universe", universe); err != nil {
		return err
	}
	m.eventBroker.Publish(&events.Event{
		Type:     events.EventUniverseUpdated,
		Message:  fmt.Sprintf("universe %s updated", universe.Name),
		Metadata: map[string]string{"universe_id": universe.UUID},
	})
	return nil
}

// DeleteUniverse removes a universe
func (m *Manager) DeleteUniverse(id string) error {
	if err := m.applyOp("delete_universe", id); err != nil {
		return err
	}
	m.eventBroker.Publish(&events.Event{
		Type:     events.EventUniverseDeleted,
		Message:  fmt.Sprintf("universe %s deleted", id),
		Metadata: map[string]string{"universe_id": id},
	})
	return nil
}

// AcquireUniverseLock marks the universe as being updated by taskID
func (m *Manager) AcquireUniverseLock(universeID, taskID string, override bool) error {
	err := m.applyOp("acquire_universe_lock", lockCommand{
		UniverseID: universeID,
		TaskID:     taskID,
		Override:   override,
	})
	if err != nil {
		return err
	}
	m.eventBroker.Publish(&events.Event{
		Type:     events.EventUniverseLocked,
		Message:  fmt.Sprintf("universe %s locked by task %s", universeID, taskID),
		Metadata: map[string]string{"universe_id": universeID, "task_id": taskID},
	})
	return nil
}

// ReleaseUniverseLock clears the lock held by taskID
func (m *Manager) ReleaseUniverseLock(universeID, taskID string, succeeded bool) error {
	err := m.applyOp("release_universe_lock", lockCommand{
		UniverseID: universeID,
		TaskID:     taskID,
		Succeeded:  succeeded,
	})
	if err != nil {
		return err
	}
	m.eventBroker.Publish(&events.Event{
		Type:     events.EventUniverseUnlocked,
		Message:  fmt.Sprintf("universe %s unlocked by task %s", universeID, taskID),
		Metadata: map[string]string{"universe_id": universeID, "task_id": taskID},
	})
	return nil
}

// UpdateUniverseLocked writes the universe while taskID holds its lock
func (m *Manager) UpdateUniverseLocked(universe *types.Universe, taskID string) error {
	return m.applyOp("update_universe_locked", lockedUpdateCommand{Universe: universe, TaskID: taskID})
}

// CreateTask records a new task
func (m *Manager) CreateTask(task *types.TaskInfo) error {
	return m.applyOp("create_task", task)
}

// UpdateTask replaces a task record
func (m *Manager) UpdateTask(task *types.TaskInfo) error {
	return m.applyOp("update_task", task)
}

// SaveTaskProgress records the last completed group of a task
func (m *Manager) SaveTaskProgress(taskID string, lastCompletedGroup int) error {
	return m.applyOp("save_task_progress", progressCommand{TaskID: taskID, LastCompletedGroup: lastCompletedGroup})
}

// DeleteTask removes a task
func (m *Manager) DeleteTask(id string) error {
	return m.applyOp("delete_task", id)
}

// GetUniverse retrieves a universe by ID (read from local store)
func (m *Manager) GetUniverse(id string) (*types.Universe, error) {
	return m.store.GetUniverse(id)
}

// ListUniverses returns all universes (read from local store)
func (m *Manager) ListUniverses() ([]*types.Universe, error) {
	return m.store.ListUniverses()
}

// GetTask retrieves a task by ID (read from local store)
func (m *Manager) GetTask(id string) (*types.TaskInfo, error) {
	return m.store.GetTask(id)
}

// ListTasks returns all tasks (read from local store)
func (m *Manager) ListTasks() ([]*types.TaskInfo, error) {
	return m.store.ListTasks()
}

// ListTasksByUniverse returns all tasks of a universe (read from local store)
func (m *Manager) ListTasksByUniverse(universeID string) ([]*types.TaskInfo, error) {
	return m.store.ListTasksByUniverse(universeID)
}

// Close shuts the manager down; it satisfies storage.Store
func (m *Manager) Close() error {
	return m.Shutdown()
}

// Shutdown gracefully shuts down the manager. Later calls return the first result.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown()
	})
	return m.shutdownErr
}

func (m *Manager) shutdown() error {
	// Stop event broker
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
