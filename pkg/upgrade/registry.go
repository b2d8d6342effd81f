package upgrade

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/provider"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// PlanBuilder turns the parameters of one maintenance kind into a plan
type PlanBuilder interface {
	// Verify rejects parameters before the universe is locked
	Verify(ctx context.Context, u *types.Universe, p *Params) error

	// Plan builds the ordered groups; the universe is locked while it runs
	Plan(ctx context.Context, u *types.Universe, p *Params) ([]*task.SubTaskGroup, error)
}

// Registry maps maintenance kinds to their plan builders
type Registry struct {
	mu       sync.RWMutex
	builders map[Kind]PlanBuilder
}

var _ task.Planner = (*Registry)(nil)

// NewRegistry creates a registry holding the built-in kinds
func NewRegistry(catalog provider.Catalog) *Registry {
	r := &Registry{builders: make(map[Kind]PlanBuilder)}
	r.Register(KindResize, NewResizeBuilder(catalog))
	r.Register(KindGFlagsUpgrade, NewGFlagsBuilder())
	r.Register(KindSoftwareUpgrade, NewSoftwareBuilder())
	return r
}

// Register sets the builder of a kind, replacing any previous one
func (r *Registry) Register(kind Kind, b PlanBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Kinds returns the registered kinds in name order
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) builder(kind string) (PlanBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[Kind(kind)]
	if !ok {
		return nil, apierr.BadRequestf("unknown task kind %q", kind)
	}
	return b, nil
}

// Verify implements task.Planner
func (r *Registry) Verify(ctx context.Context, kind string, u *types.Universe, raw json.RawMessage) error {
	b, err := r.builder(kind)
	if err != nil {
		return err
	}
	p, err := DecodeParams(raw)
	if err != nil {
		return err
	}
	return b.Verify(ctx, u, p)
}

// Plan implements task.Planner
func (r *Registry) Plan(ctx context.Context, kind string, u *types.Universe, raw json.RawMessage) ([]*task.SubTaskGroup, error) {
	b, err := r.builder(kind)
	if err != nil {
		return nil, err
	}
	p, err := DecodeParams(raw)
	if err != nil {
		return nil, err
	}
	return b.Plan(ctx, u, p)
}
