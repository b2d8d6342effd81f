package api

import (
	"encoding/json"
	"time"

	"github.com/cuemby/fleet/pkg/task"
)

// SubmitRequest is the body of POST /v1/tasks and POST /v1/plans
type SubmitRequest struct {
	UniverseID string          `json:"universeId"`
	Kind       string          `json:"kind"`
	Params     json.RawMessage `json:"params"`
	Force      bool            `json:"force,omitempty"`
}

// SubmitResponse names the task a request started or changed
type SubmitResponse struct {
	TaskID string `json:"taskId"`
}

// PlanResponse is the dry-run plan of a submission
type PlanResponse struct {
	Groups []*task.SubTaskGroup `json:"groups"`
}

// BackupRequest is the body of the backup and restore endpoints
type BackupRequest struct {
	Keyspaces []string `json:"keyspaces"`
	Location  string   `json:"location"`
}

// BackupResult is the outcome for one keyspace
type BackupResult struct {
	Keyspace string `json:"keyspace"`
	Address  string `json:"address,omitempty"`
	Location string `json:"location"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// BackupResponse lists per-keyspace outcomes in request order
type BackupResponse struct {
	Results []BackupResult `json:"results"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}
