package engine

import (
	"context"
	"errors"
	"time"

	"workgraph/internal/audit"
)

// Sweeper periodically releases pending tasks whose dependency lag has
// elapsed and, when configured, compacts the TaskUpdate log.
type Sweeper struct {
	Engine    Engine
	Interval  time.Duration
	Compactor *audit.Compactor
}

// Run blocks until ctx is done. A non-positive interval disables the loop.
func (s Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass.
func (s Sweeper) Sweep(ctx context.Context) {
	log := s.Engine.logger()
	promoted, err := s.Engine.ReevaluatePending(ctx, "")
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		log.Error("readiness sweep failed", "err", err)
	case len(promoted) > 0:
		log.Info("readiness sweep promoted tasks", "count", len(promoted), "tasks", promoted)
	}
	if s.Compactor == nil {
		return
	}
	if _, err := s.Compactor.Compact(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("task update compaction failed", "err", err)
	}
}
