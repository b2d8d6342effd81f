package backup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/events"
	"github.com/cuemby/fleet/pkg/health"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/nodepool"
	"github.com/cuemby/fleet/pkg/poll"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config configures backup and restore runs
type Config struct {
	// Parallelism bounds how many keyspaces are processed at once
	Parallelism int

	// Poll bounds the wait for each keyspace's success marker
	Poll poll.Config
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		Parallelism: 2,
		Poll:        poll.DefaultConfig(),
	}
}

// Result is the outcome for one keyspace
type Result struct {
	Keyspace string
	Address  string
	Location string
	Duration time.Duration
	Err      error
}

// Runner fans keyspace backups and restores out over the live tservers of
// a universe, never using more servers at once than Config.Parallelism
type Runner struct {
	agent  agent.NodeAgent
	prober health.Prober
	broker *events.Broker
	cfg    Config
}

// NewRunner creates a runner. broker may be nil.
func NewRunner(nodeAgent agent.NodeAgent, prober health.Prober, broker *events.Broker, cfg Config) *Runner {
	return &Runner{
		agent:  nodeAgent,
		prober: prober,
		broker: broker,
		cfg:    cfg,
	}
}

// Backup writes every keyspace to its own directory under location
func (r *Runner) Backup(ctx context.Context, u *types.Universe, keyspaces []string, location string) ([]Result, error) {
	return r.run(ctx, agent.OpBackupKeyspace, u, keyspaces, location)
}

// Restore loads every keyspace from its directory under location
func (r *Runner) Restore(ctx context.Context, u *types.Universe, keyspaces []string, location string) ([]Result, error) {
	return r.run(ctx, agent.OpRestoreKeyspace, u, keyspaces, location)
}

func (r *Runner) run(ctx context.Context, op agent.Operation, u *types.Universe, keyspaces []string, location string) ([]Result, error) {
	if len(keyspaces) == 0 {
		return nil, apierr.BadRequestf("no keyspaces given")
	}
	if location == "" {
		return nil, apierr.BadRequestf("backup location is required")
	}

	logger := log.WithUniverseID(u.UUID)
	servers := liveTServers(u)
	candidates := make([]string, 0, len(servers))
	for addr := range servers {
		candidates = append(candidates, addr)
	}
	sort.Strings(candidates)

	pool, err := nodepool.New(nodepool.Config{Parallelism: r.cfg.Parallelism, Candidates: candidates}, r.prober)
	if err != nil {
		return nil, err
	}
	if err := pool.Populate(ctx, nil); err != nil {
		return nil, err
	}

	results := make([]Result, len(keyspaces))
	var mu sync.Mutex
	g := new(errgroup.Group)
	for i, keyspace := range keyspaces {
		g.Go(func() error {
			res := r.runKeyspace(ctx, pool, servers, op, keyspace, strings.TrimRight(location, "/")+"/"+keyspace)
			mu.Lock()
			results[i] = res
			mu.Unlock()

			event := logger.Info()
			if res.Err != nil {
				event = logger.Error().Err(res.Err)
			}
			event.Str("op", string(op)).
				Str("keyspace", keyspace).
				Str("address", res.Address).
				Dur("duration", res.Duration).
				Msg("Keyspace finished")
			return res.Err
		})
	}
	err = g.Wait()

	if r.broker != nil {
		r.broker.Publish(&events.Event{
			ID:      uuid.New().String(),
			Type:    events.EventBackupCompleted,
			Message: string(op),
			Metadata: map[string]string{
				"universe_id": u.UUID,
				"location":    location,
				"keyspaces":   fmt.Sprint(len(keyspaces)),
				"result":      metrics.Result(err),
			},
		})
	}
	return results, err
}

func (r *Runner) runKeyspace(ctx context.Context, pool *nodepool.Pool, servers map[string]*types.NodeDetails, op agent.Operation, keyspace, location string) Result {
	start := time.Now()
	res := Result{Keyspace: keyspace, Location: location}

	addr, err := pool.Acquire(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	defer pool.Release(addr) //nolint:errcheck
	res.Address = addr
	node := servers[addr]

	params := map[string]string{
		agent.ParamKeyspace: keyspace,
		agent.ParamLocation: location,
	}
	if _, err := r.agent.Apply(ctx, node, op, params); err != nil {
		res.Err = apierr.Wrap(apierr.KindInternal, err, "%s of %s on %s", op, keyspace, node.Name)
		res.Duration = time.Since(start)
		return res
	}

	marker := map[string]string{agent.ParamMarker: location, agent.ParamKeyspace: keyspace}
	res.Err = poll.Until(ctx, r.cfg.Poll, fmt.Sprintf("%s of %s", op, keyspace), func(ctx context.Context) (bool, string, error) {
		status, err := r.agent.Apply(ctx, node, agent.OpFetchMarker, marker)
		if err != nil {
			return false, "", apierr.Wrap(apierr.KindInternal, err, "fetch marker of %s", keyspace)
		}
		switch status {
		case agent.MarkerSuccess:
			return true, status, nil
		case agent.MarkerFailed:
			return false, status, apierr.Internalf("%s of %s failed on %s", op, keyspace, node.Name)
		}
		return false, status, nil
	})
	res.Duration = time.Since(start)
	return res
}

// liveTServers maps the private address of every live tserver to its node
func liveTServers(u *types.Universe) map[string]*types.NodeDetails {
	out := make(map[string]*types.NodeDetails)
	for _, n := range u.Nodes {
		if n.IsTserver && n.State == types.NodeStateLive && n.PrivateIP != "" {
			out[n.PrivateIP] = n
		}
	}
	return out
}
