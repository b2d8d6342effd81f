package types

import (
	"encoding/json"
	"sort"
	"time"
)

// Universe represents a managed database cluster
type Universe struct {
	UUID     string
	Name     string
	Clusters []*Cluster
	Nodes    []*NodeDetails

	// Mutual-exclusion marker. Only the task named by UpdatingTaskUUID may
	// mutate the universe while UpdateInProgress is set.
	UpdateInProgress bool
	UpdatingTaskUUID string
	UpdateSucceeded  bool

	// MasterLeader is the node name of the last known master leader
	MasterLeader string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClusterType distinguishes the primary cluster from read replicas
type ClusterType string

const (
	ClusterTypePrimary ClusterType = "PRIMARY"
	ClusterTypeAsync   ClusterType = "ASYNC"
	ClusterTypeAddon   ClusterType = "ADDON"
)

// Cluster is a group of nodes sharing a UserIntent
type Cluster struct {
	UUID          string
	Type          ClusterType
	UserIntent    *UserIntent
	PlacementInfo *PlacementInfo
}

// PlacementInfo describes where a cluster's nodes live
type PlacementInfo struct {
	Cloud   string
	Regions []*Region
}

// Region is a cloud region holding availability zones
type Region struct {
	Code  string
	Zones []*Zone
}

// Zone is a single availability zone
type Zone struct {
	UUID     string
	Name     string
	NumNodes int
}

// ProviderType is the cloud backing a cluster
type ProviderType string

const (
	ProviderAWS        ProviderType = "aws"
	ProviderGCP        ProviderType = "gcp"
	ProviderAzure      ProviderType = "azu"
	ProviderKubernetes ProviderType = "kubernetes"
	ProviderOnPrem     ProviderType = "onprem"
)

// ServerType is a database server process kind
type ServerType string

const (
	ServerMaster  ServerType = "MASTER"
	ServerTServer ServerType = "TSERVER"
)

// StorageType is a disk class offered by a provider
type StorageType string

const (
	StorageGP2          StorageType = "GP2"
	StorageGP3          StorageType = "GP3"
	StorageIO1          StorageType = "IO1"
	StorageIO2          StorageType = "IO2"
	StorageScratch      StorageType = "Scratch"
	StoragePersistent   StorageType = "Persistent"
	StorageStandardSSD  StorageType = "StandardSSD_LRS"
	StoragePremiumSSD   StorageType = "Premium_LRS"
	StorageUltraSSD     StorageType = "UltraSSD_LRS"
	StorageInstanceDisk StorageType = "InstanceStore"
)

// DeviceInfo describes the data volumes attached to a node
type DeviceInfo struct {
	VolumeSize  int // GB per volume
	NumVolumes  int
	DiskIOPS    *int
	Throughput  *int // MiB/s
	StorageType StorageType
	MountPoints string
}

// Clone returns a deep copy of the device info
func (d *DeviceInfo) Clone() *DeviceInfo {
	if d == nil {
		return nil
	}
	c := *d
	if d.DiskIOPS != nil {
		v := *d.DiskIOPS
		c.DiskIOPS = &v
	}
	if d.Throughput != nil {
		v := *d.Throughput
		c.Throughput = &v
	}
	return &c
}

// UserIntent is the declarative desired configuration of a cluster
type UserIntent struct {
	Provider           string
	ProviderType       ProviderType
	RegionList         []string
	InstanceType       string
	MasterInstanceType string
	DeviceInfo         *DeviceInfo
	MasterDeviceInfo   *DeviceInfo
	DedicatedNodes     bool
	ReplicationFactor  int
	NumNodes           int
	YBSoftwareVersion  string

	EnableYSQL                bool
	EnableYSQLAuth            bool
	EnableYCQL                bool
	EnableYCQLAuth            bool
	EnableYEDIS               bool
	EnableNodeToNodeEncrypt   bool
	EnableClientToNodeEncrypt bool

	// Legacy flat flag maps. Ignored when SpecificGFlags is set.
	MasterGFlags  map[string]string
	TServerGFlags map[string]string

	SpecificGFlags *SpecificGFlags
}

// Clone returns a deep copy so that planning never mutates the stored intent
func (i *UserIntent) Clone() *UserIntent {
	if i == nil {
		return nil
	}
	c := *i
	c.RegionList = append([]string(nil), i.RegionList...)
	c.DeviceInfo = i.DeviceInfo.Clone()
	c.MasterDeviceInfo = i.MasterDeviceInfo.Clone()
	c.MasterGFlags = cloneFlags(i.MasterGFlags)
	c.TServerGFlags = cloneFlags(i.TServerGFlags)
	c.SpecificGFlags = i.SpecificGFlags.Clone()
	return &c
}

// InstanceTypeFor returns the instance type used by nodes running the given process.
// Master-specific values apply only to dedicated master nodes.
func (i *UserIntent) InstanceTypeFor(serverType ServerType) string {
	if serverType == ServerMaster && i.DedicatedNodes && i.MasterInstanceType != "" {
		return i.MasterInstanceType
	}
	return i.InstanceType
}

// DeviceInfoFor returns the device info used by nodes running the given process
func (i *UserIntent) DeviceInfoFor(serverType ServerType) *DeviceInfo {
	if serverType == ServerMaster && i.DedicatedNodes && i.MasterDeviceInfo != nil {
		return i.MasterDeviceInfo
	}
	return i.DeviceInfo
}

// SpecificGFlags holds per-process flags, optionally overridden per availability zone
type SpecificGFlags struct {
	InheritFromPrimary bool
	PerProcessFlags    *PerProcessFlags
	PerAZ              map[string]*PerProcessFlags
}

// PerProcessFlags maps a server process to its flags
type PerProcessFlags struct {
	Value map[ServerType]map[string]string
}

// Clone returns a deep copy
func (p *PerProcessFlags) Clone() *PerProcessFlags {
	if p == nil {
		return nil
	}
	c := &PerProcessFlags{Value: make(map[ServerType]map[string]string, len(p.Value))}
	for k, v := range p.Value {
		c.Value[k] = cloneFlags(v)
	}
	return c
}

// Clone returns a deep copy
func (s *SpecificGFlags) Clone() *SpecificGFlags {
	if s == nil {
		return nil
	}
	c := &SpecificGFlags{
		InheritFromPrimary: s.InheritFromPrimary,
		PerProcessFlags:    s.PerProcessFlags.Clone(),
	}
	if s.PerAZ != nil {
		c.PerAZ = make(map[string]*PerProcessFlags, len(s.PerAZ))
		for az, flags := range s.PerAZ {
			c.PerAZ[az] = flags.Clone()
		}
	}
	return c
}

// NewSpecificGFlags builds SpecificGFlags from master and tserver maps
func NewSpecificGFlags(master, tserver map[string]string) *SpecificGFlags {
	return &SpecificGFlags{
		PerProcessFlags: &PerProcessFlags{
			Value: map[ServerType]map[string]string{
				ServerMaster:  cloneFlags(master),
				ServerTServer: cloneFlags(tserver),
			},
		},
	}
}

// NodeState is the lifecycle state of a cluster member
type NodeState string

const (
	NodeStateToBeAdded       NodeState = "ToBeAdded"
	NodeStateLive            NodeState = "Live"
	NodeStateStopped         NodeState = "Stopped"
	NodeStateResizing        NodeState = "Resizing"
	NodeStateUpdatingGFlags  NodeState = "UpdatingGFlags"
	NodeStateUpgradeSoftware NodeState = "UpgradeSoftware"
	NodeStateDecommissioned  NodeState = "Decommissioned"
)

// NodePorts are the per-process ports of a node
type NodePorts struct {
	MasterRPCPort   int
	MasterHTTPPort  int
	TServerRPCPort  int
	TServerHTTPPort int
	YSQLServerPort  int
	YQLServerPort   int
	RedisServerPort int
}

// DefaultNodePorts returns the stock database ports
func DefaultNodePorts() NodePorts {
	return NodePorts{
		MasterRPCPort:   7100,
		MasterHTTPPort:  7000,
		TServerRPCPort:  9100,
		TServerHTTPPort: 9000,
		YSQLServerPort:  5433,
		YQLServerPort:   9042,
		RedisServerPort: 6379,
	}
}

// NodeDetails describes one cluster member
type NodeDetails struct {
	Name         string
	NodeUUID     string
	ClusterUUID  string
	AZUUID       string
	Cloud        string
	Region       string
	Zone         string
	IsMaster     bool
	IsTserver    bool
	DedicatedTo  *ServerType
	InstanceType string
	State        NodeState
	PrivateIP    string
	PublicIP     string
	Ports        NodePorts
}

// Clone returns a copy of the node
func (n *NodeDetails) Clone() *NodeDetails {
	c := *n
	if n.DedicatedTo != nil {
		v := *n.DedicatedTo
		c.DedicatedTo = &v
	}
	return &c
}

// Runs reports whether the node hosts the given process
func (n *NodeDetails) Runs(serverType ServerType) bool {
	switch serverType {
	case ServerMaster:
		return n.IsMaster
	case ServerTServer:
		return n.IsTserver
	}
	return false
}

// ServerTypes returns the processes the node hosts, master first
func (n *NodeDetails) ServerTypes() []ServerType {
	var out []ServerType
	if n.IsMaster {
		out = append(out, ServerMaster)
	}
	if n.IsTserver {
		out = append(out, ServerTServer)
	}
	return out
}

// PrimaryServerType is the process used to pick instance type and devices for the node
func (n *NodeDetails) PrimaryServerType() ServerType {
	if n.DedicatedTo != nil {
		return *n.DedicatedTo
	}
	return ServerTServer
}

// RPCPort returns the RPC port for the given process
func (n *NodeDetails) RPCPort(serverType ServerType) int {
	if serverType == ServerMaster {
		return n.Ports.MasterRPCPort
	}
	return n.Ports.TServerRPCPort
}

// HTTPPort returns the web UI port for the given process
func (n *NodeDetails) HTTPPort(serverType ServerType) int {
	if serverType == ServerMaster {
		return n.Ports.MasterHTTPPort
	}
	return n.Ports.TServerHTTPPort
}

// PrimaryCluster returns the universe's primary cluster
func (u *Universe) PrimaryCluster() *Cluster {
	for _, c := range u.Clusters {
		if c.Type == ClusterTypePrimary {
			return c
		}
	}
	return nil
}

// Cluster returns the cluster with the given UUID
func (u *Universe) Cluster(uuid string) *Cluster {
	for _, c := range u.Clusters {
		if c.UUID == uuid {
			return c
		}
	}
	return nil
}

// Node returns the node with the given name
func (u *Universe) Node(name string) *NodeDetails {
	for _, n := range u.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// NodesInCluster returns the cluster's nodes sorted by name
func (u *Universe) NodesInCluster(clusterUUID string) []*NodeDetails {
	var out []*NodeDetails
	for _, n := range u.Nodes {
		if n.ClusterUUID == clusterUUID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Masters returns every node in the universe hosting an active master
func (u *Universe) Masters() []*NodeDetails {
	var out []*NodeDetails
	for _, n := range u.Nodes {
		if n.IsMaster && n.State != NodeStateDecommissioned {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clone returns a deep copy of the universe
func (u *Universe) Clone() (*Universe, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var c Universe
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// TaskState is the lifecycle state of a submitted task
type TaskState string

const (
	TaskStateCreated TaskState = "Created"
	TaskStateRunning TaskState = "Running"
	TaskStateSuccess TaskState = "Success"
	TaskStateFailed  TaskState = "Failed"
	TaskStateAborted TaskState = "Aborted"
)

// Terminal reports whether no further progress will be made without a retry
func (s TaskState) Terminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailed || s == TaskStateAborted
}

// TaskInfo is the persisted record of a task submission. Plan holds the
// serialized SubTaskGroup list so a retry resumes the exact same plan.
type TaskInfo struct {
	UUID               string
	UniverseUUID       string
	Kind               string
	State              TaskState
	Params             json.RawMessage
	Plan               json.RawMessage
	TotalGroups        int
	LastCompletedGroup int // -1 before the first group completes
	RetryCount         int
	Error              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        time.Time
}

func cloneFlags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
