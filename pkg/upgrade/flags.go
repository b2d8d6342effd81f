package upgrade

import (
	"github.com/cuemby/fleet/pkg/gflags"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// processFlags holds the new effective flags of the processes that change on one node
type processFlags map[types.ServerType]map[string]string

// flagChanges compares the effective flags of each process in serverTypes on
// node between the stored universe u and the candidate cand. With force every
// process is reported.
func flagChanges(u, cand *types.Universe, clusterUUID string, node *types.NodeDetails, serverTypes []types.ServerType, force bool) (processFlags, error) {
	cluster, candCluster := u.Cluster(clusterUUID), cand.Cluster(clusterUUID)
	candNode := cand.Node(node.Name)

	out := make(processFlags)
	for _, st := range serverTypes {
		before, err := gflags.EffectiveFlags(u, cluster, node, st)
		if err != nil {
			return nil, err
		}
		after, err := gflags.EffectiveFlags(cand, candCluster, candNode, st)
		if err != nil {
			return nil, err
		}
		if force || !gflags.Equal(before, after) {
			out[st] = after
		}
	}
	return out, nil
}

// processes returns the changed processes, master first
func (p processFlags) processes() []types.ServerType {
	var out []types.ServerType
	for _, st := range []types.ServerType{types.ServerMaster, types.ServerTServer} {
		if _, ok := p[st]; ok {
			out = append(out, st)
		}
	}
	return out
}

// writes returns one configuration write per changed process
func (p processFlags) writes(node *types.NodeDetails) ([]*task.SubTask, error) {
	var out []*task.SubTask
	for _, st := range p.processes() {
		w, err := writeFlags(node, st, p[st])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// syncIntent folds mirrored flags of intent into its fields after checking
// master and tserver agree on them
func syncIntent(u *types.Universe, cluster *types.Cluster, intent *types.UserIntent) error {
	probe := &types.Cluster{UUID: cluster.UUID, Type: cluster.Type, UserIntent: intent}
	master, tserver, err := gflags.ProcessFlags(u, probe)
	if err != nil {
		return err
	}
	_, err = gflags.SyncProcessFlagsToIntent(master, tserver, intent)
	return err
}

// activeNodes returns the cluster's nodes that are not decommissioned
func activeNodes(u *types.Universe, clusterUUID string) []*types.NodeDetails {
	var out []*types.NodeDetails
	for _, n := range u.NodesInCluster(clusterUUID) {
		if n.State != types.NodeStateDecommissioned {
			out = append(out, n)
		}
	}
	return out
}
