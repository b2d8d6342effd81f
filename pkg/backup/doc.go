// Package backup backs up and restores keyspaces of a universe in parallel.
//
// Each keyspace is handled by one live tserver taken from a nodepool.Pool,
// so at most Config.Parallelism servers do backup I/O at once. After the
// agent starts the operation the runner polls the keyspace's success marker
// until it reports SUCCESS, reports FAILED, or the poll attempts run out.
package backup
