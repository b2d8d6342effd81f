/*
Package agent defines how the control plane changes a node.

A NodeAgent applies one Operation to one node and returns its output. The
control plane decides what to do and in which order; agents only carry a
single change out, synchronously, and must tolerate being asked twice.

Operations marked Local (node state bookkeeping, waiting for a server,
persisting the intent) never reach an agent; the task runner performs them.

SSHAgent runs a node-side control program over SSH, one invocation per
operation, retrying transient connection failures per RetryCfg. Mux routes
operations to different agents, for example instance changes to a cloud
agent and process control to SSH.
*/
package agent
