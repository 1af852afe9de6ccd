package waitlist

import (
	"context"
	"time"

	"github.com/openslot/waitline/pkg/logging"
)

// Sweeper drives the hold-timer sweep on a fixed interval. It is an explicit
// service with its own lifecycle; stop it by canceling the context passed to
// Run. A failed cycle is logged and the next tick proceeds normally.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *logging.Logger
}

func NewSweeper(orch *Orchestrator, interval time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{orch: orch, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("hold sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("hold sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.orch.Sweep(ctx); err != nil {
				s.logger.Error("sweep cycle failed", "error", err)
			}
		}
	}
}
