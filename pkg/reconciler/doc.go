/*
Package reconciler repairs task state after a control-plane crash.

Every cycle it lists the stored tasks and:

  - resumes tasks recorded as Running that no executor in this process is
    running, continuing from the group after their last completed one
  - releases universe locks still held by tasks that already reached a
    terminal state, recording whether that task succeeded

Only the raft leader reconciles when Config.IsLeader is set.
*/
package reconciler
