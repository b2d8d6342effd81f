package resize

import (
	"github.com/cuemby/fleet/pkg/types"
)

// Category classifies what a resize does to a node
type Category int

const (
	// Unaffected nodes keep their instance and volumes
	Unaffected Category = iota
	// DeviceOnly nodes get their volumes changed without a restart
	DeviceOnly
	// InstanceChanging nodes are stopped, moved to a new instance type and restarted
	InstanceChanging
)

func (c Category) String() string {
	switch c {
	case DeviceOnly:
		return "device-only"
	case InstanceChanging:
		return "instance-changing"
	default:
		return "unaffected"
	}
}

// NodeDecision is the resize planner's verdict on one node
type NodeDecision struct {
	Node           *types.NodeDetails
	ServerType     types.ServerType
	InstanceChange bool
	DeviceChange   bool
}

// Category returns the node's partition
func (d NodeDecision) Category() Category {
	switch {
	case d.InstanceChange:
		return InstanceChanging
	case d.DeviceChange:
		return DeviceOnly
	default:
		return Unaffected
	}
}

// Decide classifies every active node of cluster against desired.
// Nodes come back in cluster order (sorted by name).
func Decide(u *types.Universe, cluster *types.Cluster, desired *types.UserIntent, force bool) ([]NodeDecision, error) {
	current := cluster.UserIntent

	var decisions []NodeDecision
	for _, node := range u.NodesInCluster(cluster.UUID) {
		if node.State == types.NodeStateDecommissioned {
			continue
		}
		st := node.PrimaryServerType()

		deviceChange, err := DeviceChanged(current.DeviceInfoFor(st), desired.DeviceInfoFor(st), current.ProviderType, force)
		if err != nil {
			return nil, err
		}

		decisions = append(decisions, NodeDecision{
			Node:           node,
			ServerType:     st,
			InstanceChange: InstanceChanged(node, desired, st, force),
			DeviceChange:   deviceChange,
		})
	}
	return decisions, nil
}

// Partition splits decisions by category, preserving order
func Partition(decisions []NodeDecision) (instance, deviceOnly, unaffected []NodeDecision) {
	for _, d := range decisions {
		switch d.Category() {
		case InstanceChanging:
			instance = append(instance, d)
		case DeviceOnly:
			deviceOnly = append(deviceOnly, d)
		default:
			unaffected = append(unaffected, d)
		}
	}
	return instance, deviceOnly, unaffected
}
