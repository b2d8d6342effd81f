package upgrade

import (
	"context"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// GFlagsBuilder plans a rollout of changed server flags
type GFlagsBuilder struct{}

// NewGFlagsBuilder creates a flag rollout planner
func NewGFlagsBuilder() *GFlagsBuilder {
	return &GFlagsBuilder{}
}

// targets keeps everything of the stored intent but its flags
func (b *GFlagsBuilder) targets(u *types.Universe, p *Params) ([]target, error) {
	return targets(u, p, func(c *types.Cluster, requested *types.UserIntent) (*types.UserIntent, error) {
		if requested == nil {
			return nil, apierr.BadRequestf("cluster %s: flags are required for a flag upgrade", c.UUID)
		}
		if requested.SpecificGFlags == nil && (requested.MasterGFlags == nil) != (requested.TServerGFlags == nil) {
			return nil, apierr.BadRequestf("cluster %s: give either both or neither of master and tserver flags", c.UUID)
		}
		flags := requested.Clone()
		desired := c.UserIntent.Clone()
		desired.MasterGFlags = flags.MasterGFlags
		desired.TServerGFlags = flags.TServerGFlags
		desired.SpecificGFlags = flags.SpecificGFlags
		if err := syncIntent(u, c, desired); err != nil {
			return nil, err
		}
		return desired, nil
	})
}

// Verify rejects inconsistent flags and rollouts that change nothing
func (b *GFlagsBuilder) Verify(ctx context.Context, u *types.Universe, p *Params) error {
	if _, err := p.sleepAfterRestart(); err != nil {
		return err
	}
	groups, err := b.Plan(ctx, u, &Params{Clusters: p.Clusters, SleepAfterRestart: p.SleepAfterRestart})
	if err != nil {
		return err
	}
	// Only the persist group means no process sees a difference
	if len(groups) <= 1 && !p.Force {
		return apierr.BadRequestf("flags of universe %s are unchanged", u.UUID)
	}
	return nil
}

// Plan restarts masters and then tservers whose effective flags changed,
// one node at a time. Nodes that could host a master but run none get their
// master configuration rewritten without a restart.
func (b *GFlagsBuilder) Plan(ctx context.Context, u *types.Universe, p *Params) ([]*task.SubTaskGroup, error) {
	sleep, err := p.sleepAfterRestart()
	if err != nil {
		return nil, err
	}
	ts, err := b.targets(u, p)
	if err != nil {
		return nil, err
	}
	cand, err := candidate(u, ts)
	if err != nil {
		return nil, err
	}

	rollCtx := Context{ProcessInactiveMaster: true, SleepAfterRestart: sleep}

	var groups []*task.SubTaskGroup
	for _, t := range ts {
		nodes := activeNodes(u, t.current.UUID)
		for _, st := range []types.ServerType{types.ServerMaster, types.ServerTServer} {
			var changes []nodeChange
			for _, node := range nodes {
				if !node.Runs(st) {
					continue
				}
				fc, err := flagChanges(u, cand, t.current.UUID, node, []types.ServerType{st}, p.Force)
				if err != nil {
					return nil, err
				}
				if len(fc) == 0 {
					continue
				}
				writes, err := fc.writes(node)
				if err != nil {
					return nil, err
				}
				changes = append(changes, nodeChange{node: node, processes: []types.ServerType{st}, config: writes})
			}
			groups = append(groups, rollCtx.rolling(changes, types.NodeStateUpdatingGFlags, u.MasterLeader)...)

			if st == types.ServerMaster && rollCtx.ProcessInactiveMaster {
				inactive, err := inactiveMasterWrites(u, cand, t.current.UUID, nodes, p.Force)
				if err != nil {
					return nil, err
				}
				if inactive != nil {
					groups = append(groups, inactive)
				}
			}
		}
	}

	persist, err := persistIntent(ts)
	if err != nil {
		return nil, err
	}
	return append(groups, persist), nil
}

// inactiveMasterWrites rewrites the master configuration of shared nodes that
// do not run a master, so a later master move starts with current flags
func inactiveMasterWrites(u, cand *types.Universe, clusterUUID string, nodes []*types.NodeDetails, force bool) (*task.SubTaskGroup, error) {
	group := task.NewGroup("Write inactive master configuration", task.GroupUpdatingGFlags)
	for _, node := range nodes {
		if node.IsMaster || node.DedicatedTo != nil {
			continue
		}
		fc, err := flagChanges(u, cand, clusterUUID, node, []types.ServerType{types.ServerMaster}, force)
		if err != nil {
			return nil, err
		}
		writes, err := fc.writes(node)
		if err != nil {
			return nil, err
		}
		for _, w := range writes {
			w.AZ = node.AZUUID
		}
		group.SubTasks = append(group.SubTasks, writes...)
	}
	if len(group.SubTasks) == 0 {
		return nil, nil
	}
	return group, nil
}
