package application

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper cancels orphaned PENDING orders: rows created by intake whose
// gateway call failed before a payment record existed. No webhook will ever
// reference them, so nothing else would resolve them.
type Sweeper struct {
	log      *slog.Logger
	store    WorkflowStore
	interval time.Duration
	ttl      time.Duration
}

func NewSweeper(log *slog.Logger, store WorkflowStore, interval, ttl time.Duration) *Sweeper {
	return &Sweeper{log: log, store: store, interval: interval, ttl: ttl}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("orphan sweeper stopping")
			return nil
		case <-t.C:
			n, err := s.store.SweepOrphans(ctx, s.ttl)
			if err != nil {
				s.log.Error("orphan sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("orphaned orders canceled", "count", n)
			}
		}
	}
}
