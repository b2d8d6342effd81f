// Package agenttest provides a recording NodeAgent for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/types"
)

// Call is one recorded Apply
type Call struct {
	Node   string
	Op     agent.Operation
	Params map[string]string
}

// Recorder records every call and answers from Hook when set
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error

	// Hook, when set, computes the result of each call
	Hook func(ctx context.Context, node *types.NodeDetails, op agent.Operation, params map[string]string) (string, error)
}

// NewRecorder creates a recorder that succeeds on every call
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

func failKey(node string, op agent.Operation) string {
	return node + "/" + string(op)
}

// FailOn makes op on node fail with err until cleared with a nil err
func (r *Recorder) FailOn(node string, op agent.Operation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, failKey(node, op))
		return
	}
	r.fail[failKey(node, op)] = err
}

// Apply implements agent.NodeAgent
func (r *Recorder) Apply(ctx context.Context, node *types.NodeDetails, op agent.Operation, params map[string]string) (string, error) {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}

	r.mu.Lock()
	r.calls = append(r.calls, Call{Node: node.Name, Op: op, Params: copied})
	err := r.fail[failKey(node.Name, op)]
	hook := r.Hook
	r.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("%s on %s: %w", op, node.Name, err)
	}
	if hook != nil {
		return hook(ctx, node, op, params)
	}
	if op == agent.OpFetchMarker {
		return agent.MarkerSuccess, nil
	}
	return "ok", nil
}

// Calls returns a copy of the recorded calls in order
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsFor returns the recorded calls of one operation
func (r *Recorder) CallsFor(op agent.Operation) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
