package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openslot/waitline/pkg/logging"
)

// AdvanceGuard is a cross-process latch around batch advancement. The decline
// path and the sweeper can race to advance the same slot; the row lock taken
// by Dispatch already serializes them, the guard just makes the losing racer
// bail out before opening a transaction. A nil guard always admits.
type AdvanceGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewAdvanceGuard(client *redis.Client, ttl time.Duration, logger *logging.Logger) *AdvanceGuard {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AdvanceGuard{client: client, ttl: ttl, logger: logger}
}

func advanceKey(slotID uuid.UUID, batch int) string {
	return fmt.Sprintf("waitline:advance:%s:%d", slotID, batch)
}

// TryAcquire claims the latch for one slot/batch pair. Redis being down is
// not fatal: the guard admits and correctness falls back to the row lock.
func (g *AdvanceGuard) TryAcquire(ctx context.Context, slotID uuid.UUID, batch int) bool {
	if g == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, advanceKey(slotID, batch), 1, g.ttl).Result()
	if err != nil {
		g.logger.Warn("advance guard unavailable, admitting", "slot_id", slotID, "error", err)
		return true
	}
	return ok
}

// Release drops the latch so a failed dispatch can be retried before the TTL.
func (g *AdvanceGuard) Release(ctx context.Context, slotID uuid.UUID, batch int) {
	if g == nil {
		return
	}
	if err := g.client.Del(ctx, advanceKey(slotID, batch)).Err(); err != nil {
		g.logger.Warn("advance guard release failed", "slot_id", slotID, "error", err)
	}
}
