package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/fleet/pkg/types"
)

// Prober answers whether a server address is reachable right now
type Prober interface {
	Ping(ctx context.Context, address string) bool
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, address string) bool

// Ping calls f
func (f ProberFunc) Ping(ctx context.Context, address string) bool {
	return f(ctx, address)
}

// CheckerProber pings an address by running a one-off Checker against it
type CheckerProber struct {
	// NewChecker builds the checker for an address
	NewChecker func(address string) Checker

	// Timeout bounds a single ping
	Timeout time.Duration
}

// Ping runs one check against address
func (p *CheckerProber) Ping(ctx context.Context, address string) bool {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return p.NewChecker(address).Check(ctx).Healthy
}

// NewTCPProber pings bare host addresses by connecting to port on them
func NewTCPProber(port int, timeout time.Duration) *CheckerProber {
	return &CheckerProber{
		NewChecker: func(address string) Checker {
			return NewTCPChecker(withPort(address, port)).WithTimeout(timeout)
		},
		Timeout: timeout,
	}
}

// NewGRPCProber pings bare host addresses through the gRPC health service on port
func NewGRPCProber(port int, timeout time.Duration) *CheckerProber {
	return &CheckerProber{
		NewChecker: func(address string) Checker {
			return NewGRPCChecker(withPort(address, port))
		},
		Timeout: timeout,
	}
}

// NodeChecker returns a checker for one process of a node
func NodeChecker(node *types.NodeDetails, serverType types.ServerType, checkType CheckType) (Checker, error) {
	switch checkType {
	case CheckTypeTCP:
		return NewTCPChecker(withPort(node.PrivateIP, node.RPCPort(serverType))), nil
	case CheckTypeGRPC:
		return NewGRPCChecker(withPort(node.PrivateIP, node.RPCPort(serverType))), nil
	case CheckTypeHTTP:
		return NewHTTPChecker(fmt.Sprintf("http://%s/status",
			withPort(node.PrivateIP, node.HTTPPort(serverType)))), nil
	default:
		return nil, fmt.Errorf("unsupported check type %q", checkType)
	}
}

func withPort(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}
