/*
Package events is an in-process publish/subscribe broker for control-plane
events: universe lock changes, task lifecycle, per-group progress and node
state transitions.

Publish never blocks on a slow subscriber. Each subscriber has a buffered
channel and events that do not fit are dropped for that subscriber only, so
events are a notification stream, not a source of truth; the store is.

	sub, stop := broker.Filter(events.EventTaskCompleted, events.EventTaskFailed)
	defer stop()
	for ev := range sub {
		log.Info().Str("task_id", ev.Metadata["task_id"]).Msg(ev.Message)
	}
*/
package events
