package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/health"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/cuemby/fleet/pkg/universe"
)

// CheckerFunc builds the health checker used to wait for one process of a node
type CheckerFunc func(node *types.NodeDetails, serverType types.ServerType) (health.Checker, error)

// RunnerConfig configures a Runner
type RunnerConfig struct {
	// Health controls how long WaitForServer waits for a restarted process
	Health health.Config

	// CheckType selects the probe used by WaitForServer
	CheckType health.CheckType

	// Checker overrides the checker built from CheckType
	Checker CheckerFunc
}

// DefaultRunnerConfig returns the production runner settings
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Health:    health.DefaultConfig(),
		CheckType: health.CheckTypeTCP,
	}
}

// Runner executes single subtasks. Local operations change the universe
// through the task's handle, remote operations go to the node agent.
type Runner struct {
	agent   agent.NodeAgent
	health  health.Config
	checker CheckerFunc
}

// NewRunner creates a runner
func NewRunner(nodeAgent agent.NodeAgent, cfg RunnerConfig) *Runner {
	checker := cfg.Checker
	if checker == nil {
		checkType := cfg.CheckType
		checker = func(node *types.NodeDetails, serverType types.ServerType) (health.Checker, error) {
			return health.NodeChecker(node, serverType, checkType)
		}
	}
	return &Runner{
		agent:   nodeAgent,
		health:  cfg.Health,
		checker: checker,
	}
}

// Run executes st. On a retry, operations whose effect is already
// visible on the node are skipped.
func (r *Runner) Run(ctx context.Context, h *universe.Handle, st *SubTask, isFirstTry bool) error {
	switch st.Op {
	case agent.OpPersistIntent:
		return r.persistIntent(h, st)
	case agent.OpSleep:
		return r.sleep(ctx, st)
	}

	u, err := h.Universe()
	if err != nil {
		return err
	}
	node := u.Node(st.NodeName)
	if node == nil {
		return apierr.NotFoundf("node %s not found in universe %s", st.NodeName, u.UUID)
	}

	if !isFirstTry && alreadyApplied(node, st) {
		logger := log.WithNode(node.Name, node.PrivateIP)
		logger.Warn().
			Str("task_id", h.TaskID()).
			Str("op", string(st.Op)).
			Msg("Skipping subtask already applied by a previous attempt")
		return nil
	}

	switch st.Op {
	case agent.OpSetNodeState:
		return h.SetNodeState(node.Name, types.NodeState(st.Params[agent.ParamState]))
	case agent.OpUpdateNodeDetails:
		return r.updateNodeDetails(h, node.Name, st.Params)
	case agent.OpWaitForServer:
		return r.waitForServer(ctx, h, node, st)
	}

	if _, err := r.agent.Apply(ctx, node, st.Op, st.Params); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "%s", st)
	}

	switch st.Op {
	case agent.OpStopProcesses:
		return h.SetNodeState(node.Name, types.NodeStateStopped)
	case agent.OpChangeInstanceType:
		return r.updateNodeDetails(h, node.Name, st.Params)
	}
	return nil
}

// alreadyApplied reports whether the node already shows the effect of st
func alreadyApplied(node *types.NodeDetails, st *SubTask) bool {
	switch st.Op {
	case agent.OpChangeInstanceType, agent.OpUpdateNodeDetails:
		want := st.Params[agent.ParamInstanceType]
		return want != "" && node.InstanceType == want
	case agent.OpStopProcesses:
		return node.State == types.NodeStateStopped
	case agent.OpSetNodeState:
		return node.State == types.NodeState(st.Params[agent.ParamState])
	}
	return false
}

func (r *Runner) updateNodeDetails(h *universe.Handle, nodeName string, params map[string]string) error {
	return h.UpdateNode(nodeName, func(n *types.NodeDetails) error {
		if it := params[agent.ParamInstanceType]; it != "" {
			n.InstanceType = it
		}
		return nil
	})
}

func (r *Runner) waitForServer(ctx context.Context, h *universe.Handle, node *types.NodeDetails, st *SubTask) error {
	logger := log.WithNode(node.Name, node.PrivateIP)

	for _, serverType := range processesOf(node, st.Params) {
		checker, err := r.checker(node, serverType)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, err, "health checker for %s on %s", serverType, node.Name)
		}
		result, err := health.WaitHealthy(ctx, checker, r.health)
		if err != nil {
			return fmt.Errorf("%s on %s did not come back: %w", serverType, node.Name, err)
		}
		logger.Debug().
			Str("process", string(serverType)).
			Dur("check_duration", result.Duration).
			Msg("Server is healthy")
	}

	return h.SetNodeState(node.Name, types.NodeStateLive)
}

// persistIntent rewrites a cluster's UserIntent. It is the commit point of a plan.
func (r *Runner) persistIntent(h *universe.Handle, st *SubTask) error {
	clusterUUID := st.Params[agent.ParamClusterUUID]
	var intent types.UserIntent
	if err := json.Unmarshal([]byte(st.Params[agent.ParamIntent]), &intent); err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "decode intent of cluster %s", clusterUUID)
	}

	return h.Update(func(u *types.Universe) error {
		cluster := u.Cluster(clusterUUID)
		if cluster == nil {
			return apierr.NotFoundf("cluster %s not found in universe %s", clusterUUID, u.UUID)
		}
		cluster.UserIntent = &intent
		return nil
	})
}

func (r *Runner) sleep(ctx context.Context, st *SubTask) error {
	d, err := time.ParseDuration(st.Params[agent.ParamDuration])
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, err, "invalid sleep duration")
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return apierr.Cancelled(ctx.Err(), "sleep")
	}
}

// processesOf returns the processes named by params, or every process the node runs
func processesOf(node *types.NodeDetails, params map[string]string) []types.ServerType {
	raw := params[agent.ParamProcesses]
	if raw == "" {
		return node.ServerTypes()
	}
	var out []types.ServerType
	for _, p := range strings.Split(raw, ",") {
		out = append(out, types.ServerType(strings.TrimSpace(p)))
	}
	return out
}

// JoinProcesses renders server types as the processes parameter
func JoinProcesses(serverTypes ...types.ServerType) string {
	parts := make([]string, len(serverTypes))
	for i, st := range serverTypes {
		parts[i] = string(st)
	}
	return strings.Join(parts, ",")
}
