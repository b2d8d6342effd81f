/*
Package gflags computes, merges and validates the runtime flags of database
server processes. Everything here is a pure function of its inputs.

A process's effective flags are its user flags merged over the platform
defaults:

	user, _ := gflags.UserFlags(universe, cluster, node, types.ServerTServer)
	flags := gflags.MergeUserFlags(user, gflags.ComputeDefaults(node, universe, cluster, types.ServerTServer), false)

ComputeDefaults derives placement, bind addresses, master addresses, data
directories, proxy and TLS settings from the topology. The placement, bind,
cluster, replication and certificate flags are platform-owned: a user value
for them that differs from the platform value is dropped with a warning.
The flags undefok and ysql_{hba,pg,ident}_conf_csv are merged as sets.

Seven boolean flags mirror UserIntent fields (enable_ysql, enable_ysql_auth,
use_cassandra_authentication, start_cql_proxy, start_redis_proxy,
use_node_to_node_encryption, use_client_to_server_encryption).
CheckConsistency rejects masters and tservers disagreeing on one of them and
SyncFlagsToIntent copies explicit flag values into the intent.
*/
package gflags
