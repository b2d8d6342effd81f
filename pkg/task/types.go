package task

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/google/uuid"
)

// SubTaskGroupType tags a group for progress reporting
type SubTaskGroupType string

const (
	GroupPreflightChecks       SubTaskGroupType = "PreflightChecks"
	GroupLeaderBlacklist       SubTaskGroupType = "LeaderBlacklist"
	GroupUpdatingNodeState     SubTaskGroupType = "UpdatingNodeState"
	GroupStoppingNodeProcesses SubTaskGroupType = "StoppingNodeProcesses"
	GroupResizingInstance      SubTaskGroupType = "ResizingInstance"
	GroupResizingDisk          SubTaskGroupType = "ResizingDisk"
	GroupUpdatingGFlags        SubTaskGroupType = "UpdatingGFlags"
	GroupDownloadingSoftware   SubTaskGroupType = "DownloadingSoftware"
	GroupUpgradingSoftware     SubTaskGroupType = "UpgradingSoftware"
	GroupStartingNodeProcesses SubTaskGroupType = "StartingNodeProcesses"
	GroupWaitingForServer      SubTaskGroupType = "WaitingForServer"
	GroupRemoveLeaderBlacklist SubTaskGroupType = "RemoveLeaderBlacklist"
	GroupSleeping              SubTaskGroupType = "Sleeping"
	GroupPersistingIntent      SubTaskGroupType = "PersistingUniverseIntent"
)

// SubTask is one atomic, idempotent operation on one node. Cluster-level
// subtasks such as PersistIntent have no node.
type SubTask struct {
	ID       string            `json:"id"`
	NodeName string            `json:"node_name,omitempty"`
	AZ       string            `json:"az,omitempty"`
	Op       agent.Operation   `json:"op"`
	Params   map[string]string `json:"params,omitempty"`
}

// NewSubTask creates a subtask with a fresh ID
func NewSubTask(nodeName string, op agent.Operation, params map[string]string) *SubTask {
	return &SubTask{
		ID:       uuid.New().String(),
		NodeName: nodeName,
		Op:       op,
		Params:   params,
	}
}

// String returns a short description for logs
func (s *SubTask) String() string {
	if s.NodeName == "" {
		return string(s.Op)
	}
	return fmt.Sprintf("%s(%s)", s.Op, s.NodeName)
}

// SubTaskGroup is a batch of independent subtasks that may run concurrently
type SubTaskGroup struct {
	Name     string           `json:"name"`
	Type     SubTaskGroupType `json:"type"`
	SubTasks []*SubTask       `json:"subtasks"`
}

// NewGroup creates a group of subtasks
func NewGroup(name string, groupType SubTaskGroupType, subtasks ...*SubTask) *SubTaskGroup {
	return &SubTaskGroup{Name: name, Type: groupType, SubTasks: subtasks}
}

// Nodes returns the names of the nodes the group touches, in subtask order
func (g *SubTaskGroup) Nodes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, st := range g.SubTasks {
		if st.NodeName != "" && !seen[st.NodeName] {
			seen[st.NodeName] = true
			out = append(out, st.NodeName)
		}
	}
	return out
}

// RunnableTask is the live execution record of one task submission.
// Position is the index of the next group to run.
type RunnableTask struct {
	TaskID     string
	UniverseID string
	Kind       string
	Groups     []*SubTaskGroup
	Position   int
	RetryCount int
	IsFirstTry bool
}

// EncodePlan serializes a plan for the task record
func EncodePlan(groups []*SubTaskGroup) (json.RawMessage, error) {
	return json.Marshal(groups)
}

// DecodePlan restores a plan from the task record
func DecodePlan(data json.RawMessage) ([]*SubTaskGroup, error) {
	var groups []*SubTaskGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return groups, nil
}

// CountGroups returns how many groups of the given type a plan holds
func CountGroups(groups []*SubTaskGroup, groupType SubTaskGroupType) int {
	n := 0
	for _, g := range groups {
		if g.Type == groupType {
			n++
		}
	}
	return n
}
