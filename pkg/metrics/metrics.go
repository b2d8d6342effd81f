package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Universe metrics
	UniversesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_universes_total",
			Help: "Total number of managed universes",
		},
	)

	UniverseLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_universe_locks_held",
			Help: "Number of universes with an update in progress",
		},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_tasks_total",
			Help: "Total number of tasks by kind and state",
		},
		[]string{"kind", "state"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_task_duration_seconds",
			Help:    "Wall time of finished tasks in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind"},
	)

	SubTaskGroupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_subtask_groups_total",
			Help: "Total number of executed subtask groups by type and result",
		},
		[]string{"type", "result"},
	)

	SubTaskGroupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_subtask_group_duration_seconds",
			Help:    "Subtask group duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	SubTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_subtasks_total",
			Help: "Total number of executed subtasks by operation and result",
		},
		[]string{"op", "result"},
	)

	// Node pool metrics
	NodePoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_nodepool_available",
			Help: "Number of healthy servers waiting in the node pool",
		},
	)

	NodePoolPopulateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_nodepool_populate_total",
			Help: "Total number of node pool populate runs by result",
		},
		[]string{"result"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksResumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_tasks_resumed_total",
			Help: "Total number of interrupted tasks resumed by the reconciler",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(UniversesTotal)
	prometheus.MustRegister(UniverseLocksHeld)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(SubTaskGroupsTotal)
	prometheus.MustRegister(SubTaskGroupDuration)
	prometheus.MustRegister(SubTasksTotal)
	prometheus.MustRegister(NodePoolAvailable)
	prometheus.MustRegister(NodePoolPopulateTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(TasksResumed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the result label used by the counters above
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
