package upgrade

import (
	"context"
	"strconv"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/provider"
	"github.com/cuemby/fleet/pkg/resize"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// ResizeBuilder plans instance type and volume changes
type ResizeBuilder struct {
	catalog provider.Catalog
}

// NewResizeBuilder creates a resize planner that checks instance types against catalog
func NewResizeBuilder(catalog provider.Catalog) *ResizeBuilder {
	return &ResizeBuilder{catalog: catalog}
}

func (b *ResizeBuilder) targets(u *types.Universe, p *Params) ([]target, error) {
	return targets(u, p, func(c *types.Cluster, requested *types.UserIntent) (*types.UserIntent, error) {
		if requested == nil {
			return nil, apierr.BadRequestf("cluster %s: desired intent is required for a resize", c.UUID)
		}
		desired := requested.Clone()
		if err := syncIntent(u, c, desired); err != nil {
			return nil, err
		}
		return desired, nil
	})
}

// Verify rejects resizes the provider cannot perform and requests that change nothing
func (b *ResizeBuilder) Verify(ctx context.Context, u *types.Universe, p *Params) error {
	if _, err := p.sleepAfterRestart(); err != nil {
		return err
	}
	ts, err := b.targets(u, p)
	if err != nil {
		return err
	}
	cand, err := candidate(u, ts)
	if err != nil {
		return err
	}

	changed := false
	for _, t := range ts {
		if err := resize.CheckResizePossible(ctx, t.current, t.desired, b.catalog, p.Force); err != nil {
			return err
		}
		decisions, err := resize.Decide(u, t.current, t.desired, p.Force)
		if err != nil {
			return err
		}
		for _, d := range decisions {
			if d.Category() != resize.Unaffected {
				changed = true
			}
			fc, err := flagChanges(u, cand, t.current.UUID, d.Node, d.Node.ServerTypes(), false)
			if err != nil {
				return err
			}
			if len(fc) > 0 {
				changed = true
			}
		}
	}

	if !changed && !p.Force {
		return apierr.BadRequestf("resize of universe %s changes neither instances, volumes nor flags", u.UUID)
	}
	return nil
}

// Plan restarts instance-changing nodes one at a time, resizes the volumes
// of device-only nodes in place and then restarts any other node whose
// flags changed.
func (b *ResizeBuilder) Plan(ctx context.Context, u *types.Universe, p *Params) ([]*task.SubTaskGroup, error) {
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

	resizeCtx := Context{ReconfigureMaster: true, SleepAfterRestart: sleep}
	flagsCtx := Context{SleepAfterRestart: sleep}

	var groups []*task.SubTaskGroup
	for _, t := range ts {
		clusterGroups, err := b.planCluster(u, cand, t, p.Force, resizeCtx, flagsCtx)
		if err != nil {
			return nil, err
		}
		groups = append(groups, clusterGroups...)
	}

	persist, err := persistIntent(ts)
	if err != nil {
		return nil, err
	}
	return append(groups, persist), nil
}

func (b *ResizeBuilder) planCluster(u, cand *types.Universe, t target, force bool, resizeCtx, flagsCtx Context) ([]*task.SubTaskGroup, error) {
	decisions, err := resize.Decide(u, t.current, t.desired, force)
	if err != nil {
		return nil, err
	}
	instance, deviceOnly, unaffected := resize.Partition(decisions)

	var groups []*task.SubTaskGroup
	if len(instance) > 0 {
		preflight := task.NewGroup("Check mount points", task.GroupPreflightChecks)
		for _, d := range instance {
			params := map[string]string{}
			if device := t.current.UserIntent.DeviceInfoFor(d.ServerType); device != nil && device.MountPoints != "" {
				params[agent.ParamMountPoints] = device.MountPoints
			}
			preflight.SubTasks = append(preflight.SubTasks, task.NewSubTask(d.Node.Name, agent.OpCheckMountPoints, params))
		}
		groups = append(groups, preflight)
	}

	var changes []nodeChange
	for _, d := range instance {
		node := d.Node
		ch := nodeChange{node: node, processes: node.ServerTypes()}
		ch.mutations = append(ch.mutations, task.NewGroup("Change instance type of "+node.Name, task.GroupResizingInstance,
			task.NewSubTask(node.Name, agent.OpChangeInstanceType, map[string]string{
				agent.ParamInstanceType: t.desired.InstanceTypeFor(d.ServerType),
			})))
		if d.DeviceChange {
			ch.mutations = append(ch.mutations, resizeDisk(node, t.desired.DeviceInfoFor(d.ServerType)))
		}

		fc, err := flagChanges(u, cand, t.current.UUID, node, node.ServerTypes(), false)
		if err != nil {
			return nil, err
		}
		if ch.config, err = fc.writes(node); err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}
	groups = append(groups, resizeCtx.rolling(changes, types.NodeStateResizing, u.MasterLeader)...)

	for _, d := range deviceOnly {
		groups = append(groups, resizeDisk(d.Node, t.desired.DeviceInfoFor(d.ServerType)))
	}

	// Nodes that were not restarted still need changed flags applied
	var trailing []nodeChange
	for _, d := range append(deviceOnly, unaffected...) {
		fc, err := flagChanges(u, cand, t.current.UUID, d.Node, d.Node.ServerTypes(), false)
		if err != nil {
			return nil, err
		}
		if len(fc) == 0 {
			continue
		}
		writes, err := fc.writes(d.Node)
		if err != nil {
			return nil, err
		}
		trailing = append(trailing, nodeChange{node: d.Node, processes: fc.processes(), config: writes})
	}
	groups = append(groups, flagsCtx.rolling(trailing, types.NodeStateUpdatingGFlags, u.MasterLeader)...)

	return groups, nil
}

// resizeDisk grows the volumes of one node to device
func resizeDisk(node *types.NodeDetails, device *types.DeviceInfo) *task.SubTaskGroup {
	params := map[string]string{
		agent.ParamVolumeSize: strconv.Itoa(device.VolumeSize),
		agent.ParamNumVolumes: strconv.Itoa(device.NumVolumes),
	}
	if device.DiskIOPS != nil {
		params[agent.ParamDiskIOPS] = strconv.Itoa(*device.DiskIOPS)
	}
	if device.Throughput != nil {
		params[agent.ParamThroughput] = strconv.Itoa(*device.Throughput)
	}
	if device.MountPoints != "" {
		params[agent.ParamMountPoints] = device.MountPoints
	}
	st := task.NewSubTask(node.Name, agent.OpResizeDisk, params)
	st.AZ = node.AZUUID
	return task.NewGroup("Resize volumes of "+node.Name, task.GroupResizingDisk, st)
}
