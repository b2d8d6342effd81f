package gflags

import (
	"github.com/cuemby/fleet/pkg/types"
)

// Platform-owned flag names
const (
	PlacementCloud           = "placement_cloud"
	PlacementRegion          = "placement_region"
	PlacementZone            = "placement_zone"
	PlacementUUID            = "placement_uuid"
	MasterAddresses          = "master_addresses"
	TServerMasterAddrs       = "tserver_master_addrs"
	RPCBindAddresses         = "rpc_bind_addresses"
	ServerBroadcastAddresses = "server_broadcast_addresses"
	WebserverInterface       = "webserver_interface"
	FSDataDirs               = "fs_data_dirs"
	ClusterUUID              = "cluster_uuid"
	ReplicationFactor        = "replication_factor"
	CQLProxyBindAddress      = "cql_proxy_bind_address"
	PgsqlProxyBindAddress    = "pgsql_proxy_bind_address"
	RedisProxyBindAddress    = "redis_proxy_bind_address"
	CertsDir                 = "certs_dir"
	CertsForClientDir        = "certs_for_client_dir"
	AllowInsecureConnections = "allow_insecure_connections"
)

// Flags that mirror a UserIntent field
const (
	EnableYSQL                  = "enable_ysql"
	EnableYSQLAuth              = "enable_ysql_auth"
	UseCassandraAuthentication  = "use_cassandra_authentication"
	StartCQLProxy               = "start_cql_proxy"
	StartRedisProxy             = "start_redis_proxy"
	UseNodeToNodeEncryption     = "use_node_to_node_encryption"
	UseClientToServerEncryption = "use_client_to_server_encryption"
)

// CSV-valued flags whose user and platform values are unioned
const (
	Undefok          = "undefok"
	YSQLHbaConfCSV   = "ysql_hba_conf_csv"
	YSQLPgConfCSV    = "ysql_pg_conf_csv"
	YSQLIdentConfCSV = "ysql_ident_conf_csv"
)

// DefaultCertsDir is where node certificates are installed
const DefaultCertsDir = "/home/yugabyte/yugabyte-tls-config"

// DefaultClientCertsDir holds the client-facing certificates when they differ from node certs
const DefaultClientCertsDir = "/home/yugabyte/yugabyte-client-tls-config"

// forbidden flags are derived from topology and may not be overridden by users
var forbidden = map[string]bool{
	PlacementCloud:           true,
	PlacementRegion:          true,
	PlacementZone:            true,
	PlacementUUID:            true,
	MasterAddresses:          true,
	TServerMasterAddrs:       true,
	RPCBindAddresses:         true,
	ServerBroadcastAddresses: true,
	WebserverInterface:       true,
	FSDataDirs:               true,
	ClusterUUID:              true,
	ReplicationFactor:        true,
	CQLProxyBindAddress:      true,
	PgsqlProxyBindAddress:    true,
	RedisProxyBindAddress:    true,
	CertsDir:                 true,
	CertsForClientDir:        true,
	AllowInsecureConnections: true,
}

var csvFlags = []string{Undefok, YSQLHbaConfCSV, YSQLPgConfCSV, YSQLIdentConfCSV}

// IsForbidden reports whether the flag is platform-owned
func IsForbidden(flag string) bool {
	return forbidden[flag]
}

// IsCSV reports whether the flag's value is merged as a comma-separated set
func IsCSV(flag string) bool {
	for _, f := range csvFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// mirror binds a boolean flag to the UserIntent field it mirrors
type mirror struct {
	flag string
	get  func(*types.UserIntent) bool
	set  func(*types.UserIntent, bool)
}

var mirrored = []mirror{
	{EnableYSQL,
		func(i *types.UserIntent) bool { return i.EnableYSQL },
		func(i *types.UserIntent, v bool) { i.EnableYSQL = v }},
	{EnableYSQLAuth,
		func(i *types.UserIntent) bool { return i.EnableYSQLAuth },
		func(i *types.UserIntent, v bool) { i.EnableYSQLAuth = v }},
	{UseCassandraAuthentication,
		func(i *types.UserIntent) bool { return i.EnableYCQLAuth },
		func(i *types.UserIntent, v bool) { i.EnableYCQLAuth = v }},
	{StartCQLProxy,
		func(i *types.UserIntent) bool { return i.EnableYCQL },
		func(i *types.UserIntent, v bool) { i.EnableYCQL = v }},
	{StartRedisProxy,
		func(i *types.UserIntent) bool { return i.EnableYEDIS },
		func(i *types.UserIntent, v bool) { i.EnableYEDIS = v }},
	{UseNodeToNodeEncryption,
		func(i *types.UserIntent) bool { return i.EnableNodeToNodeEncrypt },
		func(i *types.UserIntent, v bool) { i.EnableNodeToNodeEncrypt = v }},
	{UseClientToServerEncryption,
		func(i *types.UserIntent) bool { return i.EnableClientToNodeEncrypt },
		func(i *types.UserIntent, v bool) { i.EnableClientToNodeEncrypt = v }},
}

// MirroredFlags returns the names of the flags that mirror UserIntent fields
func MirroredFlags() []string {
	out := make([]string, 0, len(mirrored))
	for _, m := range mirrored {
		out = append(out, m.flag)
	}
	return out
}

func copyFlags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Equal reports whether two flag sets are identical
func Equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
