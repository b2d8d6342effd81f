package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
)

// InstanceTypeInfo is what the resize planner needs to know about an instance type
type InstanceTypeInfo struct {
	Name      string
	Provider  types.ProviderType
	NumCores  float64
	MemSizeGB float64

	// EphemeralStorage is set for families whose data disks are instance-local
	EphemeralStorage bool
}

// Catalog answers which instance types a provider advertises
type Catalog interface {
	// InstanceType returns a NotFound error for types the provider does not offer
	InstanceType(ctx context.Context, provider types.ProviderType, name string) (*InstanceTypeInfo, error)
}

// ephemeralFamilies are instance families with instance-local data disks
var ephemeralFamilies = map[types.ProviderType][]string{
	types.ProviderAWS: {"i3.", "i3en.", "i4i.", "c5d.", "c6gd.", "m5d.", "m6gd.", "r5d.", "r6gd.", "d2.", "d3.", "x1."},
	types.ProviderGCP: {},
}

// IsEphemeralFamily reports whether the instance type name belongs to a
// family known to use instance-local data disks
func IsEphemeralFamily(provider types.ProviderType, name string) bool {
	for _, prefix := range ephemeralFamilies[provider] {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

type catalogKey struct {
	provider types.ProviderType
	name     string
}

// StaticCatalog is an in-memory catalog
type StaticCatalog struct {
	mu    sync.RWMutex
	types map[catalogKey]*InstanceTypeInfo
}

// NewStaticCatalog creates a catalog holding infos
func NewStaticCatalog(infos ...*InstanceTypeInfo) *StaticCatalog {
	c := &StaticCatalog{types: make(map[catalogKey]*InstanceTypeInfo)}
	for _, info := range infos {
		c.Add(info)
	}
	return c
}

// Add registers or replaces an instance type
func (c *StaticCatalog) Add(info *InstanceTypeInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *info
	if IsEphemeralFamily(info.Provider, info.Name) {
		copied.EphemeralStorage = true
	}
	c.types[catalogKey{info.Provider, info.Name}] = &copied
}

// InstanceType returns the registered instance type
func (c *StaticCatalog) InstanceType(ctx context.Context, provider types.ProviderType, name string) (*InstanceTypeInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.types[catalogKey{provider, name}]
	if !ok {
		return nil, apierr.NotFoundf("instance type %s is not offered by provider %s", name, provider)
	}
	copied := *info
	return &copied, nil
}

// DefaultCatalog returns a catalog of commonly used instance types
func DefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(
		&InstanceTypeInfo{Name: "m5.large", Provider: types.ProviderAWS, NumCores: 2, MemSizeGB: 8},
		&InstanceTypeInfo{Name: "m5.xlarge", Provider: types.ProviderAWS, NumCores: 4, MemSizeGB: 16},
		&InstanceTypeInfo{Name: "m5.2xlarge", Provider: types.ProviderAWS, NumCores: 8, MemSizeGB: 32},
		&InstanceTypeInfo{Name: "c5.xlarge", Provider: types.ProviderAWS, NumCores: 4, MemSizeGB: 8},
		&InstanceTypeInfo{Name: "r5.xlarge", Provider: types.ProviderAWS, NumCores: 4, MemSizeGB: 32},
		&InstanceTypeInfo{Name: "i3.large", Provider: types.ProviderAWS, NumCores: 2, MemSizeGB: 15.25},
		&InstanceTypeInfo{Name: "i3.xlarge", Provider: types.ProviderAWS, NumCores: 4, MemSizeGB: 30.5},
		&InstanceTypeInfo{Name: "c5d.xlarge", Provider: types.ProviderAWS, NumCores: 4, MemSizeGB: 8},
		&InstanceTypeInfo{Name: "n1-standard-4", Provider: types.ProviderGCP, NumCores: 4, MemSizeGB: 15},
		&InstanceTypeInfo{Name: "n1-standard-8", Provider: types.ProviderGCP, NumCores: 8, MemSizeGB: 30},
		&InstanceTypeInfo{Name: "n2-standard-4", Provider: types.ProviderGCP, NumCores: 4, MemSizeGB: 16},
		&InstanceTypeInfo{Name: "Standard_D4s_v3", Provider: types.ProviderAzure, NumCores: 4, MemSizeGB: 16},
		&InstanceTypeInfo{Name: "Standard_D8s_v3", Provider: types.ProviderAzure, NumCores: 8, MemSizeGB: 32},
	)
}

// Chain asks each catalog in turn and returns the first answer that is not NotFound
type Chain []Catalog

// InstanceType implements Catalog
func (c Chain) InstanceType(ctx context.Context, provider types.ProviderType, name string) (*InstanceTypeInfo, error) {
	for _, catalog := range c {
		info, err := catalog.InstanceType(ctx, provider, name)
		if err == nil {
			return info, nil
		}
		if !apierr.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, apierr.NotFoundf("instance type %s is not offered by provider %s", name, provider)
}
