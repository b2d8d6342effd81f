/*
Package types defines the data model shared by every fleet package.

A Universe is one managed database deployment. It owns one PRIMARY Cluster
and any number of ASYNC or ADDON read-replica clusters, each carrying a
UserIntent: the declarative description of instance types, devices, enabled
APIs, software version and server flags. NodeDetails records one member of a
cluster, the processes it runs and its current lifecycle state.

The UpdateInProgress/UpdatingTaskUUID pair on Universe is the single-writer
lock taken by a task for its whole execution. NodeDetails are only mutated by
the task holding that lock.

UserIntent.Clone produces the "new intent" candidate used during planning so
the stored intent stays untouched until a task commits it.

TaskInfo is the persisted execution record of a task: its parameters, its
serialized plan and the index of the last completed subtask group, which is
what makes a crashed or failed task resumable.
*/
package types
