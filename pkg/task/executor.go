package task

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/events"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/universe"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds how many subtasks of one group run at once
const DefaultParallelism = 10

// Executor runs the groups of a task strictly in order
type Executor struct {
	store       storage.Store
	runner      *Runner
	broker      *events.Broker
	parallelism int
}

// NewExecutor creates an executor. broker may be nil.
func NewExecutor(store storage.Store, runner *Runner, broker *events.Broker, parallelism int) *Executor {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Executor{
		store:       store,
		runner:      runner,
		broker:      broker,
		parallelism: parallelism,
	}
}

// Run executes rt.Groups from rt.Position on. Within a group every subtask
// is started and waited for; the first failure fails the group and stops
// the task. ctx is only checked between groups, a running group always
// finishes. Progress is saved after every completed group.
func (e *Executor) Run(ctx context.Context, rt *RunnableTask, h *universe.Handle) error {
	logger := log.WithTaskID(rt.TaskID)

	for rt.Position < len(rt.Groups) {
		if err := ctx.Err(); err != nil {
			return apierr.Cancelled(context.Cause(ctx), "task %s stopped before group %d", rt.TaskID, rt.Position)
		}

		index := rt.Position
		group := rt.Groups[index]
		logger.Info().
			Int("group", index).
			Int("total", len(rt.Groups)).
			Str("type", string(group.Type)).
			Str("name", group.Name).
			Msg("Running subtask group")

		timer := metrics.NewTimer()
		err := e.runGroup(ctx, rt, h, group)
		timer.ObserveDurationVec(metrics.SubTaskGroupDuration, string(group.Type))
		metrics.SubTaskGroupsTotal.WithLabelValues(string(group.Type), metrics.Result(err)).Inc()

		if err != nil {
			logger.Error().Err(err).
				Int("group", index).
				Str("name", group.Name).
				Msg("Subtask group failed")
			return fmt.Errorf("group %d (%s) failed: %w", index, group.Name, err)
		}

		if err := e.store.SaveTaskProgress(rt.TaskID, index); err != nil {
			return fmt.Errorf("failed to save progress of task %s: %w", rt.TaskID, err)
		}
		rt.Position = index + 1

		e.publish(&events.Event{
			Type:    events.EventGroupCompleted,
			Message: group.Name,
			Metadata: map[string]string{
				"task_id":     rt.TaskID,
				"universe_id": rt.UniverseID,
				"group":       strconv.Itoa(index),
				"type":        string(group.Type),
			},
		})
	}
	return nil
}

func (e *Executor) runGroup(ctx context.Context, rt *RunnableTask, h *universe.Handle, group *SubTaskGroup) error {
	// Subtasks are not preemptible once started.
	subCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(e.parallelism)
	for _, st := range group.SubTasks {
		g.Go(func() error {
			start := time.Now()
			err := e.runner.Run(subCtx, h, st, rt.IsFirstTry)
			metrics.SubTasksTotal.WithLabelValues(string(st.Op), metrics.Result(err)).Inc()

			logger := log.WithTaskID(rt.TaskID)
			event := logger.Debug()
			if err != nil {
				event = logger.Warn().Err(err)
			}
			event.Str("subtask", st.String()).
				Dur("duration", time.Since(start)).
				Msg("Subtask finished")
			return err
		})
	}
	return g.Wait()
}

func (e *Executor) publish(event *events.Event) {
	if e.broker != nil {
		e.broker.Publish(event)
	}
}
