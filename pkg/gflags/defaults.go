package gflags

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cuemby/fleet/pkg/types"
)

// ComputeDefaults derives the platform flags of one process on a node from
// the universe topology and the cluster's intent. The result is deterministic
// for equal inputs.
func ComputeDefaults(node *types.NodeDetails, u *types.Universe, cluster *types.Cluster, serverType types.ServerType) map[string]string {
	intent := cluster.UserIntent
	flags := map[string]string{
		PlacementCloud:     node.Cloud,
		PlacementRegion:    node.Region,
		PlacementZone:      node.Zone,
		PlacementUUID:      cluster.UUID,
		RPCBindAddresses:   hostPort(node.PrivateIP, node.RPCPort(serverType)),
		WebserverInterface: node.PrivateIP,
		FSDataDirs:         dataDirs(intent.DeviceInfoFor(serverType)),
	}
	if node.PublicIP != "" {
		flags[ServerBroadcastAddresses] = hostPort(node.PublicIP, node.RPCPort(serverType))
	}

	masters := masterAddresses(u)
	switch serverType {
	case types.ServerMaster:
		flags[MasterAddresses] = masters
		flags[ClusterUUID] = u.UUID
		flags[ReplicationFactor] = strconv.Itoa(intent.ReplicationFactor)
		flags[EnableYSQL] = strconv.FormatBool(intent.EnableYSQL)
	case types.ServerTServer:
		flags[TServerMasterAddrs] = masters
		flags[EnableYSQL] = strconv.FormatBool(intent.EnableYSQL)
		flags[StartCQLProxy] = strconv.FormatBool(intent.EnableYCQL)
		flags[StartRedisProxy] = strconv.FormatBool(intent.EnableYEDIS)
		if intent.EnableYSQL {
			flags[PgsqlProxyBindAddress] = hostPort(node.PrivateIP, node.Ports.YSQLServerPort)
			flags[EnableYSQLAuth] = strconv.FormatBool(intent.EnableYSQLAuth)
		}
		if intent.EnableYCQL {
			flags[CQLProxyBindAddress] = hostPort(node.PrivateIP, node.Ports.YQLServerPort)
			flags[UseCassandraAuthentication] = strconv.FormatBool(intent.EnableYCQLAuth)
		}
		if intent.EnableYEDIS {
			flags[RedisProxyBindAddress] = hostPort(node.PrivateIP, node.Ports.RedisServerPort)
		}
	}

	addTLSFlags(flags, intent, serverType)
	return flags
}

func addTLSFlags(flags map[string]string, intent *types.UserIntent, serverType types.ServerType) {
	n2n := intent.EnableNodeToNodeEncrypt
	c2n := intent.EnableClientToNodeEncrypt
	flags[UseNodeToNodeEncryption] = strconv.FormatBool(n2n)
	if serverType == types.ServerTServer || c2n {
		flags[UseClientToServerEncryption] = strconv.FormatBool(c2n)
	}
	if !n2n && !c2n {
		return
	}

	flags[AllowInsecureConnections] = strconv.FormatBool(!n2n)
	flags[CertsDir] = DefaultCertsDir
	if c2n && serverType == types.ServerTServer {
		flags[CertsForClientDir] = DefaultClientCertsDir
	}
}

// masterAddresses lists every active master's RPC address, sorted by node name
func masterAddresses(u *types.Universe) string {
	var addrs []string
	for _, m := range u.Masters() {
		addrs = append(addrs, hostPort(m.PrivateIP, m.Ports.MasterRPCPort))
	}
	return strings.Join(addrs, ",")
}

func dataDirs(device *types.DeviceInfo) string {
	if device == nil {
		return "/mnt/d0"
	}
	if device.MountPoints != "" {
		return device.MountPoints
	}
	n := device.NumVolumes
	if n <= 0 {
		n = 1
	}
	dirs := make([]string, n)
	for i := range dirs {
		dirs[i] = fmt.Sprintf("/mnt/d%d", i)
	}
	return strings.Join(dirs, ",")
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
