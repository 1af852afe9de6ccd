package waitlist

import (
	"context"
	"time"

	"github.com/openslot/waitline/pkg/logging"
)

// Recalculator refreshes stored priority scores on a fixed interval so batch
// ordering tracks seniority and approaching appointments. Stale scores
// between runs only affect ranking, never correctness.
type Recalculator struct {
	admin    *Admin
	interval time.Duration
	logger   *logging.Logger
}

func NewRecalculator(admin *Admin, interval time.Duration, logger *logging.Logger) *Recalculator {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Recalculator{admin: admin, interval: interval, logger: logger}
}

// Run blocks until ctx is canceled.
func (r *Recalculator) Run(ctx context.Context) {
	r.logger.Info("priority recalculator started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("priority recalculator stopped")
			return
		case <-ticker.C:
			if _, err := r.admin.RecalculateScores(ctx); err != nil {
				r.logger.Error("score recalculation failed", "error", err)
			}
		}
	}
}
