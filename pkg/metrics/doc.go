/*
Package metrics provides Prometheus metrics and health endpoints for the fleet
control plane.

All metrics are package-level collectors registered with the default registry
at init. Components record into them directly:

	timer := metrics.NewTimer()
	err := runGroup(ctx, group)
	timer.ObserveDurationVec(metrics.SubTaskGroupDuration, string(group.Type))
	metrics.SubTaskGroupsTotal.WithLabelValues(string(group.Type), metrics.Result(err)).Inc()

# Metrics

Universe and task state:

  - fleet_universes_total, fleet_universe_locks_held
  - fleet_tasks_total{kind,state}, fleet_task_duration_seconds{kind}
  - fleet_subtask_groups_total{type,result}, fleet_subtask_group_duration_seconds{type}
  - fleet_subtasks_total{op,result}

Node pool:

  - fleet_nodepool_available, fleet_nodepool_populate_total{result}

Raft, when the server runs replicated:

  - fleet_raft_is_leader, fleet_raft_peers_total
  - fleet_raft_log_index, fleet_raft_applied_index

The gauges for universes, locks, tasks and raft are refreshed by the manager's
MetricsCollector every 15 seconds; counters and histograms are recorded inline.

# Health

RegisterComponent and UpdateComponent record component health. HealthHandler,
ReadyHandler and LivenessHandler serve /health, /ready and /live. Readiness
waits for the critical components, "raft", "store" and "api" by default, which
SetCriticalComponents replaces.
*/
package metrics
