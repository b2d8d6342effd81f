package gflags

import (
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
)

// UserFlags returns the user-supplied flags of one process on a node.
// SpecificGFlags take precedence over the legacy flat maps. A read replica
// marked InheritFromPrimary uses the primary cluster's flags; the primary
// itself may not inherit.
func UserFlags(u *types.Universe, cluster *types.Cluster, node *types.NodeDetails, serverType types.ServerType) (map[string]string, error) {
	intent := cluster.UserIntent
	if intent.SpecificGFlags != nil && intent.SpecificGFlags.InheritFromPrimary {
		if cluster.Type == types.ClusterTypePrimary {
			return nil, apierr.IllegalStatef("primary cluster %s cannot inherit flags", cluster.UUID)
		}
		primary := u.PrimaryCluster()
		if primary == nil {
			return nil, apierr.IllegalStatef("universe %s has no primary cluster to inherit flags from", u.UUID)
		}
		ps := primary.UserIntent.SpecificGFlags
		if ps != nil && ps.InheritFromPrimary {
			return nil, apierr.IllegalStatef("primary cluster %s cannot inherit flags", primary.UUID)
		}
		intent = primary.UserIntent
	}
	return intentFlags(intent, node.AZUUID, serverType), nil
}

func intentFlags(intent *types.UserIntent, azUUID string, serverType types.ServerType) map[string]string {
	specific := intent.SpecificGFlags
	if specific == nil {
		if serverType == types.ServerMaster {
			return copyFlags(intent.MasterGFlags)
		}
		return copyFlags(intent.TServerGFlags)
	}

	flags := make(map[string]string)
	if specific.PerProcessFlags != nil {
		for k, v := range specific.PerProcessFlags.Value[serverType] {
			flags[k] = v
		}
	}
	if az, ok := specific.PerAZ[azUUID]; ok && az != nil {
		for k, v := range az.Value[serverType] {
			flags[k] = v
		}
	}
	return flags
}

// EffectiveFlags returns the flags a process on node runs with: the user
// flags merged over the platform defaults.
func EffectiveFlags(u *types.Universe, cluster *types.Cluster, node *types.NodeDetails, serverType types.ServerType) (map[string]string, error) {
	user, err := UserFlags(u, cluster, node, serverType)
	if err != nil {
		return nil, err
	}
	return MergeUserFlags(user, ComputeDefaults(node, u, cluster, serverType), false), nil
}

// ProcessFlags returns the cluster-wide user flags of both processes,
// ignoring per-AZ overrides. It is what verification checks for consistency.
func ProcessFlags(u *types.Universe, cluster *types.Cluster) (master, tserver map[string]string, err error) {
	probe := &types.NodeDetails{}
	if master, err = UserFlags(u, cluster, probe, types.ServerMaster); err != nil {
		return nil, nil, err
	}
	if tserver, err = UserFlags(u, cluster, probe, types.ServerTServer); err != nil {
		return nil, nil, err
	}
	return master, tserver, nil
}
