/*
Package manager replicates the control-plane state with Raft.

A Manager wraps a local BoltStore with a hashicorp/raft FSM. Every write of
the storage.Store interface is encoded as a Command, appended to the Raft log
and applied by FleetFSM on each node; reads are served from the local store.
Because Manager satisfies storage.Store, the commissioner and the reconciler
run unchanged on a standalone BoltStore or on a replicated Manager.

# Commands

	create_universe         update_universe          delete_universe
	acquire_universe_lock   release_universe_lock    update_universe_locked
	create_task             update_task              save_task_progress
	delete_task

Lock commands are checked inside the FSM, so when two control-plane nodes race
for a universe the Raft log order decides the winner and the loser receives
the conflict error from Apply.

# Snapshots

FleetSnapshot is a JSON document of all universes and tasks. Restore upserts
every record into the local store.

# Metrics

MetricsCollector refreshes the universe, lock, task and raft gauges of package
metrics every 15 seconds. It takes any storage.Store and an optional RaftStats.
*/
package manager
