package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/fleet/pkg/types"
)

// Operation names a single change applied to one node
type Operation string

// Remote operations, performed by a NodeAgent
const (
	OpCheckMountPoints      Operation = "CheckMountPoints"
	OpAddLeaderBlacklist    Operation = "AddLeaderBlacklist"
	OpRemoveLeaderBlacklist Operation = "RemoveLeaderBlacklist"
	OpStopProcesses         Operation = "StopProcesses"
	OpStartProcesses        Operation = "StartProcesses"
	OpChangeInstanceType    Operation = "ChangeInstanceType"
	OpResizeDisk            Operation = "ResizeDisk"
	OpWriteGFlags           Operation = "WriteGFlags"
	OpDownloadSoftware      Operation = "DownloadSoftware"
	OpInstallSoftware       Operation = "InstallSoftware"
	OpBackupKeyspace        Operation = "BackupKeyspace"
	OpRestoreKeyspace       Operation = "RestoreKeyspace"
	OpFetchMarker           Operation = "FetchMarker"
)

// Local operations, performed by the control plane itself
const (
	OpSetNodeState      Operation = "SetNodeState"
	OpUpdateNodeDetails Operation = "UpdateNodeDetails"
	OpWaitForServer     Operation = "WaitForServer"
	OpPersistIntent     Operation = "PersistIntent"
	OpSleep             Operation = "Sleep"
)

// Local reports whether the control plane executes the operation without a NodeAgent
func (o Operation) Local() bool {
	switch o {
	case OpSetNodeState, OpUpdateNodeDetails, OpWaitForServer, OpPersistIntent, OpSleep:
		return true
	}
	return false
}

// Parameter keys shared by plan builders, agents and the runner
const (
	ParamProcesses    = "processes"
	ParamProcess      = "process"
	ParamInstanceType = "instance_type"
	ParamVolumeSize   = "volume_size"
	ParamDiskIOPS     = "disk_iops"
	ParamThroughput   = "throughput"
	ParamNumVolumes   = "num_volumes"
	ParamMountPoints  = "mount_points"
	ParamFlags        = "flags"
	ParamVersion      = "version"
	ParamState        = "state"
	ParamKeyspace     = "keyspace"
	ParamLocation     = "location"
	ParamMarker       = "marker"
	ParamDuration     = "duration"
	ParamClusterUUID  = "cluster_uuid"
	ParamIntent       = "intent"
)

// Marker states returned by OpFetchMarker
const (
	MarkerInProgress = "IN_PROGRESS"
	MarkerSuccess    = "SUCCESS"
	MarkerFailed     = "FAILED"
)

// NodeAgent applies one operation on one node and reports its output.
// Calls are synchronous and retried operations must be idempotent.
type NodeAgent interface {
	Apply(ctx context.Context, node *types.NodeDetails, op Operation, params map[string]string) (string, error)
}

// Func adapts a function to the NodeAgent interface
type Func func(ctx context.Context, node *types.NodeDetails, op Operation, params map[string]string) (string, error)

// Apply calls f
func (f Func) Apply(ctx context.Context, node *types.NodeDetails, op Operation, params map[string]string) (string, error) {
	return f(ctx, node, op, params)
}

// Mux routes operations to agents. Cloud-side operations such as instance
// changes can go to a provider agent while process control goes over SSH.
type Mux struct {
	mu       sync.RWMutex
	routes   map[Operation]NodeAgent
	fallback NodeAgent
}

// NewMux creates a mux sending unrouted operations to fallback
func NewMux(fallback NodeAgent) *Mux {
	return &Mux{
		routes:   make(map[Operation]NodeAgent),
		fallback: fallback,
	}
}

// Handle routes ops to a
func (m *Mux) Handle(a NodeAgent, ops ...Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.routes[op] = a
	}
}

// Apply implements NodeAgent
func (m *Mux) Apply(ctx context.Context, node *types.NodeDetails, op Operation, params map[string]string) (string, error) {
	m.mu.RLock()
	a, ok := m.routes[op]
	m.mu.RUnlock()
	if !ok {
		a = m.fallback
	}
	if a == nil {
		return "", fmt.Errorf("no agent handles operation %s", op)
	}
	return a.Apply(ctx, node, op, params)
}
