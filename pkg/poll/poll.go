package poll

import (
	"context"
	"time"

	"github.com/cuemby/fleet/pkg/apierr"
)

// Config bounds a polling loop: at most Attempts checks, Interval apart
type Config struct {
	Interval time.Duration
	Attempts int
}

// DefaultConfig polls every two seconds for up to five minutes
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Attempts: 150,
	}
}

// Condition observes a remote operation once. It returns done when the
// operation reached its final state, and status as the observed remote state.
// A non-nil error stops polling immediately.
type Condition func(ctx context.Context) (done bool, status string, err error)

// Until evaluates cond until it reports done, it fails, the attempts run out
// or ctx is cancelled. Running out of attempts is a Timeout error that names
// the last observed status.
func Until(ctx context.Context, cfg Config, what string, cond Condition) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var last string
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		done, status, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		last = status

		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(cfg.Interval):
		case <-ctx.Done():
			return apierr.Cancelled(ctx.Err(), "waiting for %s (last status %q)", what, last)
		}
	}

	return apierr.Timeoutf("%s did not finish after %d attempts, last status %q", what, cfg.Attempts, last)
}
