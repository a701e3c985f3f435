// Package lease guards pipeline jobs with an advisory per-job lease so two
// hosts running the same cron entry cannot interleave writes.
package lease

import (
	"context"
	"fmt"
	"os"
	"time"

	"gpetl/internal/store"
)

// DefaultTTL bounds how long a crashed run blocks the next one. Jobs renew
// nothing: a run is expected to finish well inside the TTL.
const DefaultTTL = 15 * time.Minute

// Guard is a held lease. Release it when the run finishes.
type Guard struct {
	repo   store.Repository
	job    string
	holder string
}

// Acquire takes the lease for job. The second return is false when another
// holder has a live lease; that is a clean skip, not an error.
func Acquire(ctx context.Context, repo store.Repository, job string, ttl time.Duration) (*Guard, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	holder := defaultHolder()

	ok, err := repo.AcquireLease(ctx, job, holder, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("lease: acquire %s: %w", job, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Guard{repo: repo, job: job, holder: holder}, true, nil
}

// Release drops the lease. Safe to call when the lease already expired and
// was taken over; only this holder's row is removed.
func (g *Guard) Release(ctx context.Context) error {
	if err := g.repo.ReleaseLease(ctx, g.job, g.holder); err != nil {
		return fmt.Errorf("lease: release %s: %w", g.job, err)
	}
	return nil
}

// Holder reports the identity this process acquired under.
func (g *Guard) Holder() string { return g.holder }

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}
