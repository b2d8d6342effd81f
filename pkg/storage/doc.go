/*
Package storage persists fleet control-plane state in BoltDB.

Two buckets hold JSON-encoded records: universes (types.Universe) and tasks
(types.TaskInfo). Every write is a single bbolt read-write transaction, which
is what gives the universe lock its atomicity:

  - AcquireUniverseLock reads the universe and, in the same transaction, sets
    UpdateInProgress and UpdatingTaskUUID or fails with a Conflict error.
    The override flag only takes over a lock whose owning task record is no
    longer Running; a genuinely in-progress mutation is never broken.
  - ReleaseUniverseLock clears the marker and records UpdateSucceeded.
  - UpdateUniverseLocked writes universe changes made by a running task and
    refuses the write if the task no longer holds the lock.

SaveTaskProgress stores the index of the last completed subtask group so a
task can be resumed after a crash.

In a replicated deployment the same Store interface is implemented by
manager.Manager, which routes writes through raft and applies them to a
BoltStore on every member.
*/
package storage
