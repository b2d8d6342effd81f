package manager

import (
	"time"

	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/types"
)

// RaftStats is implemented by a Manager; a standalone server has none
type RaftStats interface {
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// MetricsCollector refreshes the state gauges from the store
type MetricsCollector struct {
	store  storage.Store
	raft   RaftStats
	stopCh chan struct{}
}

// NewMetricsCollector creates a new metrics collector. raft may be nil.
func NewMetricsCollector(store storage.Store, raft RaftStats) *MetricsCollector {
	return &MetricsCollector{
		store:  store,
		raft:   raft,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectUniverseMetrics()
	c.collectTaskMetrics()
	if c.raft != nil {
		c.collectRaftMetrics()
	}
}

func (c *MetricsCollector) collectUniverseMetrics() {
	universes, err := c.store.ListUniverses()
	if err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		return
	}
	metrics.UpdateComponent("store", true, "ok")

	locked := 0
	for _, universe := range universes {
		if universe.UpdateInProgress {
			locked++
		}
	}

	metrics.UniversesTotal.Set(float64(len(universes)))
	metrics.UniverseLocksHeld.Set(float64(locked))
}

func (c *MetricsCollector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}

	counts := make(map[string]map[types.TaskState]int)
	for _, task := range tasks {
		if counts[task.Kind] == nil {
			counts[task.Kind] = make(map[types.TaskState]int)
		}
		counts[task.Kind][task.State]++
	}

	metrics.TasksTotal.Reset()
	for kind, states := range counts {
		for state, count := range states {
			metrics.TasksTotal.WithLabelValues(kind, string(state)).Set(float64(count))
		}
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.raft.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.raft.GetRaftStats()
	leader, _ := stats["leader"].(string)
	if leader == "" {
		metrics.UpdateComponent("raft", false, "no leader elected")
	} else {
		metrics.UpdateComponent("raft", true, "leader "+leader)
	}
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			metrics.RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			metrics.RaftAppliedIndex.Set(float64(appliedIndex))
		}
		if peers, ok := stats["peers"].(uint64); ok {
			metrics.RaftPeers.Set(float64(peers))
		}
	}
}
