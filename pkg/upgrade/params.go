package upgrade

import (
	"encoding/json"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/types"
)

// Kind names a maintenance task type
type Kind string

const (
	KindResize          Kind = "Resize"
	KindGFlagsUpgrade   Kind = "GFlagsUpgrade"
	KindSoftwareUpgrade Kind = "SoftwareUpgrade"
)

// ClusterParams carries the desired intent of one target cluster
type ClusterParams struct {
	ClusterUUID string            `json:"cluster_uuid" yaml:"cluster_uuid"`
	UserIntent  *types.UserIntent `json:"user_intent" yaml:"user_intent"`
}

// Params are the parameters shared by every maintenance kind
type Params struct {
	Clusters []ClusterParams `json:"clusters" yaml:"clusters"`

	// Force plans every step even where nothing seems to change
	Force bool `json:"force,omitempty" yaml:"force,omitempty"`

	// SleepAfterRestart pauses after each restarted node, e.g. "30s"
	SleepAfterRestart string `json:"sleep_after_restart,omitempty" yaml:"sleep_after_restart,omitempty"`

	// SoftwareVersion is the target of a software upgrade
	SoftwareVersion string `json:"software_version,omitempty" yaml:"software_version,omitempty"`
}

// DecodeParams parses task parameters
func DecodeParams(raw json.RawMessage) (*Params, error) {
	var p Params
	if len(raw) == 0 {
		return nil, apierr.BadRequestf("missing task parameters")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apierr.Wrap(apierr.KindBadRequest, err, "invalid task parameters")
	}
	return &p, nil
}

// Encode serializes the parameters for a task submission
func (p *Params) Encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

func (p *Params) sleepAfterRestart() (time.Duration, error) {
	if p.SleepAfterRestart == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.SleepAfterRestart)
	if err != nil || d < 0 {
		return 0, apierr.BadRequestf("invalid sleep_after_restart %q", p.SleepAfterRestart)
	}
	return d, nil
}

// target pairs a stored cluster with the intent it should end up with
type target struct {
	current *types.Cluster
	desired *types.UserIntent
}

// targets resolves the clusters named by p. Every named cluster must exist
// and appear at most once. desire turns the requested intent into the full
// desired intent of the kind.
func targets(u *types.Universe, p *Params, desire func(c *types.Cluster, requested *types.UserIntent) (*types.UserIntent, error)) ([]target, error) {
	if len(p.Clusters) == 0 {
		return nil, apierr.BadRequestf("no target clusters given")
	}

	seen := make(map[string]bool)
	var out []target
	for _, cp := range p.Clusters {
		cluster := u.Cluster(cp.ClusterUUID)
		if cluster == nil {
			return nil, apierr.BadRequestf("cluster %s not found in universe %s", cp.ClusterUUID, u.UUID)
		}
		if seen[cp.ClusterUUID] {
			return nil, apierr.BadRequestf("cluster %s listed twice", cp.ClusterUUID)
		}
		seen[cp.ClusterUUID] = true
		if cluster.UserIntent == nil {
			return nil, apierr.IllegalStatef("cluster %s has no stored intent", cluster.UUID)
		}

		desired, err := desire(cluster, cp.UserIntent)
		if err != nil {
			return nil, err
		}
		out = append(out, target{current: cluster, desired: desired})
	}
	return out, nil
}

// candidate returns a copy of u with every target cluster switched to its desired intent
func candidate(u *types.Universe, ts []target) (*types.Universe, error) {
	c, err := u.Clone()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "clone universe %s", u.UUID)
	}
	for _, t := range ts {
		c.Cluster(t.current.UUID).UserIntent = t.desired.Clone()
	}
	return c, nil
}
