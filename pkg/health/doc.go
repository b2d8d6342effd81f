/*
Package health probes database server processes.

Three Checker implementations cover the ways a server can be asked whether it
is up: TCPChecker (the RPC port accepts connections), HTTPChecker (the web
endpoint answers in an expected status range) and GRPCChecker (the standard
grpc.health.v1 service reports SERVING). NodeChecker builds one for a node's
process from its ports.

WaitHealthy is used after a rolling restart. It checks every Config.Interval,
ignores failures during Config.StartPeriod, and gives up with a Timeout error
naming the last observed result after Config.Retries consecutive failures.

Prober is the single-shot form used by the node pool:

	prober := health.NewTCPProber(types.DefaultNodePorts().TServerRPCPort, 2*time.Second)
	if prober.Ping(ctx, "10.0.0.5") { ... }
*/
package health
