package nodepool

import (
	"context"
	"sync"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/health"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a pool
type State string

const (
	StateEmpty      State = "Empty"
	StatePopulating State = "Populating"
	StateReady      State = "Ready"
)

// Config configures a pool
type Config struct {
	// Parallelism is the pool capacity
	Parallelism int

	// Candidates are the addresses the pool may hand out, in preference order
	Candidates []string
}

// Pool hands healthy server addresses to parallel workers. At most
// Parallelism addresses are out at once and no address is held by two
// workers at the same time. A pool serves one operation and is then dropped.
type Pool struct {
	cfg    Config
	prober health.Prober
	ready  chan string
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	members map[string]bool
	out     map[string]bool
}

// New creates an empty pool
func New(cfg Config, prober health.Prober) (*Pool, error) {
	if cfg.Parallelism <= 0 {
		return nil, apierr.BadRequestf("pool parallelism must be positive, got %d", cfg.Parallelism)
	}
	return &Pool{
		cfg:     cfg,
		prober:  prober,
		ready:   make(chan string, cfg.Parallelism),
		logger:  log.WithComponent("nodepool"),
		state:   StateEmpty,
		members: make(map[string]bool),
		out:     make(map[string]bool),
	}, nil
}

// Populate fills the capacity left after the assigned addresses with
// candidates that answer a ping. Assigned and unhealthy candidates are
// skipped. It fails when no server is usable at all; finding fewer servers
// than requested only lowers the effective parallelism.
func (p *Pool) Populate(ctx context.Context, assigned []string) error {
	p.mu.Lock()
	if p.state == StatePopulating {
		p.mu.Unlock()
		return apierr.IllegalStatef("pool is already being populated")
	}
	p.state = StatePopulating
	skip := make(map[string]bool, len(assigned)+len(p.members))
	for _, addr := range assigned {
		skip[addr] = true
	}
	for addr := range p.members {
		skip[addr] = true
	}
	want := p.cfg.Parallelism - len(assigned) - len(p.members)
	p.mu.Unlock()

	added := 0
	for _, addr := range p.cfg.Candidates {
		if added >= want {
			break
		}
		if err := ctx.Err(); err != nil {
			p.setState(StateEmpty)
			metrics.NodePoolPopulateTotal.WithLabelValues("cancelled").Inc()
			return apierr.Cancelled(err, "populating node pool")
		}
		if skip[addr] {
			continue
		}
		skip[addr] = true

		if !p.prober.Ping(ctx, addr) {
			p.logger.Debug().Str("address", addr).Msg("Skipping unhealthy server")
			continue
		}

		p.mu.Lock()
		p.members[addr] = true
		p.mu.Unlock()
		p.ready <- addr
		added++
	}

	p.mu.Lock()
	total := len(p.members)
	p.mu.Unlock()

	// Assigned addresses never enter the pool, so an empty pool could not serve any Acquire
	if total == 0 {
		p.setState(StateEmpty)
		err := apierr.Internalf("servers unavailable: no usable server among %d candidates (%d assigned elsewhere)",
			len(p.cfg.Candidates), len(assigned))
		metrics.NodePoolPopulateTotal.WithLabelValues(metrics.Result(err)).Inc()
		return err
	}
	if added < want {
		p.logger.Warn().
			Int("requested", want).
			Int("available", added).
			Int("assigned", len(assigned)).
			Msg("Node pool partially populated, running with reduced parallelism")
	}

	p.setState(StateReady)
	metrics.NodePoolAvailable.Set(float64(len(p.ready)))
	metrics.NodePoolPopulateTotal.WithLabelValues(metrics.Result(nil)).Inc()
	return nil
}

// Acquire blocks until an address is free. It fails with a Cancelled error
// when ctx ends first.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	if s := p.State(); s != StateReady {
		return "", apierr.IllegalStatef("node pool is %s", s)
	}

	select {
	case addr := <-p.ready:
		p.mu.Lock()
		p.out[addr] = true
		p.mu.Unlock()
		metrics.NodePoolAvailable.Set(float64(len(p.ready)))
		return addr, nil
	case <-ctx.Done():
		return "", apierr.Cancelled(ctx.Err(), "waiting for a pool server")
	}
}

// Release returns an acquired address for the next worker
func (p *Pool) Release(addr string) error {
	p.mu.Lock()
	if !p.out[addr] {
		p.mu.Unlock()
		return apierr.IllegalStatef("address %s was not acquired from the pool", addr)
	}
	delete(p.out, addr)
	p.mu.Unlock()

	p.ready <- addr
	metrics.NodePoolAvailable.Set(float64(len(p.ready)))
	return nil
}

// Available returns how many addresses are waiting to be acquired
func (p *Pool) Available() int {
	return len(p.ready)
}

// Size returns how many addresses the pool holds, acquired or not
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// State returns the pool's lifecycle state
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
