/*
Package task runs maintenance plans against a universe.

A plan is an ordered list of SubTaskGroups. Groups run strictly one after
another; the subtasks of one group are independent and run concurrently on a
bounded errgroup. The first failing subtask fails its group, and a failed
group ends the task.

# Lifecycle

	Submit ─► Verify ─► lock universe ─► Plan ─► persist TaskInfo (Running)
	                                                     │
	                                                     ▼
	                              Executor.Run, progress saved per group
	                                                     │
	                 ┌───────────────────────────────────┼───────────────┐
	                 ▼                                   ▼               ▼
	             Success                              Failed          Aborted
	      (unlock, succeeded)                 (unlock, not succeeded)

Cancellation is only honored between groups. A commissioner shutdown leaves
the interrupted task Running with its lock held; Resume continues it from the
group after the last completed one. On a resumed attempt the Runner skips
operations whose effect is already visible on the node, such as an instance
type that already matches.

# Usage

	executor := task.NewExecutor(store, task.NewRunner(nodeAgent, task.DefaultRunnerConfig()), broker, 10)
	comm := task.NewCommissioner(store, planner, executor, broker, task.Policy{})

	id, err := comm.Submit(ctx, task.SubmitRequest{UniverseID: u.UUID, Kind: "Resize", Params: params})
	info, err := comm.Wait(ctx, id)
*/
package task
