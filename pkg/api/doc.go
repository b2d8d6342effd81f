/*
Package api implements the fleet HTTP API server.

The server exposes universes and maintenance tasks as JSON resources, plus
the operational endpoints every control-plane member serves:

	GET  /health                      component health registry
	GET  /live                        liveness
	GET  /ready                       raft leader known and store readable
	GET  /metrics                     Prometheus metrics

	GET  /v1/universes                list universes
	POST /v1/universes                import an existing universe
	GET  /v1/universes/{id}           get a universe
	GET  /v1/universes/{id}/tasks     tasks of one universe, newest first
	POST /v1/universes/{id}/backup    back up keyspaces
	POST /v1/universes/{id}/restore   restore keyspaces

	GET  /v1/tasks[?state=Failed]     list tasks, newest first
	POST /v1/tasks                    submit a task (202, returns taskId)
	GET  /v1/tasks/{id}               task record with progress
	POST /v1/tasks/{id}/resume        retry from the last completed group
	POST /v1/tasks/{id}/abort         stop at the next group boundary
	POST /v1/plans                    dry-run a submission

Errors are returned as {"kind": ..., "error": ...} with the status given by
apierr.StatusCode, so a locked universe is a 409 and a validation failure
a 400. A server started with Config.ReadOnly answers 403 to every method
other than GET, HEAD and OPTIONS.

Every /v1 request is counted in fleet_api_requests_total and timed in
fleet_api_request_duration_seconds.
*/
package api
