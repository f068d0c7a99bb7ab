package callstore

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when a [Sweeper] is created with a zero
// interval.
const DefaultSweepInterval = 15 * time.Second

// Sweeper periodically reclaims idle calls from a [Store]. It runs
// independently of the turn path so abandoned calls are dropped even when no
// further request mentions them.
type Sweeper struct {
	store    Store
	interval time.Duration

	// OnReclaim, when set, is called with the number of calls discarded by
	// each non-empty sweep.
	OnReclaim func(ctx context.Context, n int)
}

// NewSweeper returns a [Sweeper] for store.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval}
}

// Run sweeps every interval until ctx is cancelled. It always returns nil so
// it can be used directly in an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		slog.Warn("callstore: sweep failed", "err", err)
	}
	if n == 0 {
		return
	}
	slog.Debug("callstore: reclaimed idle calls", "count", n)
	if s.OnReclaim != nil {
		s.OnReclaim(ctx, n)
	}
}
