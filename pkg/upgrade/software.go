package upgrade

import (
	"context"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// SoftwareBuilder plans a database software upgrade
type SoftwareBuilder struct{}

// NewSoftwareBuilder creates a software upgrade planner
func NewSoftwareBuilder() *SoftwareBuilder {
	return &SoftwareBuilder{}
}

// targets keeps the stored intents and only moves the software version
func (b *SoftwareBuilder) targets(u *types.Universe, p *Params) ([]target, error) {
	return targets(u, p, func(c *types.Cluster, _ *types.UserIntent) (*types.UserIntent, error) {
		desired := c.UserIntent.Clone()
		desired.YBSoftwareVersion = p.SoftwareVersion
		return desired, nil
	})
}

// Verify requires a target version that differs from the running one
func (b *SoftwareBuilder) Verify(ctx context.Context, u *types.Universe, p *Params) error {
	if p.SoftwareVersion == "" {
		return apierr.BadRequestf("software_version is required")
	}
	if _, err := p.sleepAfterRestart(); err != nil {
		return err
	}
	ts, err := b.targets(u, p)
	if err != nil {
		return err
	}
	if p.Force {
		return nil
	}
	for _, t := range ts {
		if t.current.UserIntent.YBSoftwareVersion != p.SoftwareVersion {
			return nil
		}
	}
	return apierr.BadRequestf("universe %s already runs %s", u.UUID, p.SoftwareVersion)
}

// Plan downloads the release on every node in parallel, then installs it one
// node at a time, masters before tservers.
func (b *SoftwareBuilder) Plan(ctx context.Context, u *types.Universe, p *Params) ([]*task.SubTaskGroup, error) {
	sleep, err := p.sleepAfterRestart()
	if err != nil {
		return nil, err
	}
	ts, err := b.targets(u, p)
	if err != nil {
		return nil, err
	}

	version := map[string]string{agent.ParamVersion: p.SoftwareVersion}
	download := task.NewGroup("Download "+p.SoftwareVersion, task.GroupDownloadingSoftware)
	for _, t := range ts {
		if !p.Force && t.current.UserIntent.YBSoftwareVersion == p.SoftwareVersion {
			continue
		}
		for _, node := range activeNodes(u, t.current.UUID) {
			st := task.NewSubTask(node.Name, agent.OpDownloadSoftware, version)
			st.AZ = node.AZUUID
			download.SubTasks = append(download.SubTasks, st)
		}
	}

	var groups []*task.SubTaskGroup
	if len(download.SubTasks) > 0 {
		groups = append(groups, download)
	}

	rollCtx := Context{SleepAfterRestart: sleep}
	for _, t := range ts {
		if !p.Force && t.current.UserIntent.YBSoftwareVersion == p.SoftwareVersion {
			continue
		}
		nodes := activeNodes(u, t.current.UUID)
		for _, st := range []types.ServerType{types.ServerMaster, types.ServerTServer} {
			var changes []nodeChange
			for _, node := range nodes {
				if !node.Runs(st) {
					continue
				}
				install := task.NewGroup("Install "+p.SoftwareVersion+" on "+node.Name, task.GroupUpgradingSoftware,
					task.NewSubTask(node.Name, agent.OpInstallSoftware, map[string]string{
						agent.ParamVersion: p.SoftwareVersion,
						agent.ParamProcess: string(st),
					}))
				changes = append(changes, nodeChange{
					node:      node,
					processes: []types.ServerType{st},
					mutations: []*task.SubTaskGroup{install},
				})
			}
			groups = append(groups, rollCtx.rolling(changes, types.NodeStateUpgradeSoftware, u.MasterLeader)...)
		}
	}

	persist, err := persistIntent(ts)
	if err != nil {
		return nil, err
	}
	return append(groups, persist), nil
}
