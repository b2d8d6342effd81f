package upgrade

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// Context shapes the rolling restart of a plan. It is fixed once per plan.
type Context struct {
	// ReconfigureMaster moves leadership off a master before it is stopped
	ReconfigureMaster bool

	// RunBeforeStopping writes configuration while the processes still run
	RunBeforeStopping bool

	// ProcessInactiveMaster also updates master configuration on nodes that
	// could host a master but do not run one, without restarting them
	ProcessInactiveMaster bool

	// SleepAfterRestart pauses after each node came back
	SleepAfterRestart time.Duration

	// PostAction adds groups after a node finished its restart
	PostAction func(node *types.NodeDetails) []*task.SubTaskGroup
}

// nodeChange is what happens to one node inside a rolling restart
type nodeChange struct {
	node      *types.NodeDetails
	processes []types.ServerType

	// mutations run while the processes are stopped
	mutations []*task.SubTaskGroup

	// config are configuration writes, before or after the stop
	config []*task.SubTask
}

// rolling restarts the nodes of changes one at a time. The next node's first
// group only runs after the previous node's last group completed, so at most
// one node is down at any moment.
func (c Context) rolling(changes []nodeChange, state types.NodeState, masterLeader string) []*task.SubTaskGroup {
	var groups []*task.SubTaskGroup
	for _, ch := range orderForRolling(changes, masterLeader) {
		groups = append(groups, c.restartNode(ch, state)...)
	}
	return groups
}

func (c Context) restartNode(ch nodeChange, state types.NodeState) []*task.SubTaskGroup {
	node := ch.node
	name := node.Name
	processes := task.JoinProcesses(ch.processes...)
	blacklist := c.ReconfigureMaster && node.IsMaster

	var groups []*task.SubTaskGroup
	add := func(groupType task.SubTaskGroupType, label string, subtasks ...*task.SubTask) {
		for _, st := range subtasks {
			st.AZ = node.AZUUID
		}
		groups = append(groups, task.NewGroup(fmt.Sprintf("%s %s", label, name), groupType, subtasks...))
	}

	if blacklist {
		add(task.GroupLeaderBlacklist, "Blacklist leader on",
			task.NewSubTask(name, agent.OpAddLeaderBlacklist, nil))
	}
	add(task.GroupUpdatingNodeState, "Set state of",
		task.NewSubTask(name, agent.OpSetNodeState, map[string]string{agent.ParamState: string(state)}))
	if c.RunBeforeStopping && len(ch.config) > 0 {
		add(task.GroupUpdatingGFlags, "Write configuration of", ch.config...)
	}
	add(task.GroupStoppingNodeProcesses, "Stop processes on",
		task.NewSubTask(name, agent.OpStopProcesses, map[string]string{agent.ParamProcesses: processes}))
	for _, m := range ch.mutations {
		for _, st := range m.SubTasks {
			st.AZ = node.AZUUID
		}
		groups = append(groups, m)
	}
	if !c.RunBeforeStopping && len(ch.config) > 0 {
		add(task.GroupUpdatingGFlags, "Write configuration of", ch.config...)
	}
	add(task.GroupStartingNodeProcesses, "Start processes on",
		task.NewSubTask(name, agent.OpStartProcesses, map[string]string{agent.ParamProcesses: processes}))
	add(task.GroupWaitingForServer, "Wait for",
		task.NewSubTask(name, agent.OpWaitForServer, map[string]string{agent.ParamProcesses: processes}))
	if c.SleepAfterRestart > 0 {
		add(task.GroupSleeping, "Pause after",
			task.NewSubTask(name, agent.OpSleep, map[string]string{agent.ParamDuration: c.SleepAfterRestart.String()}))
	}
	if blacklist {
		add(task.GroupRemoveLeaderBlacklist, "Remove leader blacklist on",
			task.NewSubTask(name, agent.OpRemoveLeaderBlacklist, nil))
	}
	if c.PostAction != nil {
		groups = append(groups, c.PostAction(node)...)
	}
	return groups
}

// orderForRolling puts masters first with the master leader last among
// them, then every other node by name
func orderForRolling(changes []nodeChange, masterLeader string) []nodeChange {
	out := append([]nodeChange(nil), changes...)
	rank := func(n *types.NodeDetails) int {
		switch {
		case n.IsMaster && n.Name != masterLeader:
			return 0
		case n.IsMaster:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].node), rank(out[j].node)
		if ri != rj {
			return ri < rj
		}
		return out[i].node.Name < out[j].node.Name
	})
	return out
}

// writeFlags is the subtask that rewrites one process's configuration file
func writeFlags(node *types.NodeDetails, serverType types.ServerType, flags map[string]string) (*task.SubTask, error) {
	data, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flags of %s on %s: %w", serverType, node.Name, err)
	}
	return task.NewSubTask(node.Name, agent.OpWriteGFlags, map[string]string{
		agent.ParamProcess: string(serverType),
		agent.ParamFlags:   string(data),
	}), nil
}

// persistIntent is the final group of every plan. Until it runs the stored
// intents describe the state before the task.
func persistIntent(ts []target) (*task.SubTaskGroup, error) {
	group := task.NewGroup("Persist universe intent", task.GroupPersistingIntent)
	for _, t := range ts {
		data, err := json.Marshal(t.desired)
		if err != nil {
			return nil, fmt.Errorf("failed to encode intent of cluster %s: %w", t.current.UUID, err)
		}
		group.SubTasks = append(group.SubTasks, task.NewSubTask("", agent.OpPersistIntent, map[string]string{
			agent.ParamClusterUUID: t.current.UUID,
			agent.ParamIntent:      string(data),
		}))
	}
	return group, nil
}
