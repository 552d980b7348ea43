package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// balanceCacheTTL bounds how long a stale value can survive. Mutations
// invalidate rather than write through, so the only writer is the read
// warm-up path, and concurrent warm-ups can land out of order; the TTL puts
// a ceiling on that window.
const balanceCacheTTL = 5 * time.Minute

// BalanceCache fronts balance reads with Redis. Committed mutations
// invalidate the key and the next read re-warms it from Postgres; it never
// holds the authoritative value. A nil client disables caching entirely.
type BalanceCache struct {
	rdb *redis.Client
}

func NewBalanceCache(rdb *redis.Client) *BalanceCache {
	return &BalanceCache{rdb: rdb}
}

func balanceKey(userID string) string {
	return fmt.Sprintf("balance:%s", userID)
}

// Get returns the cached balance and whether it was present. Cache errors
// are logged and reported as misses so reads fall through to Postgres.
func (c *BalanceCache) Get(ctx context.Context, userID string) (int64, bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}
	bal, err := c.rdb.Get(ctx, balanceKey(userID)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("balance cache read failed", "user_id", userID, "error", err)
		}
		return 0, false
	}
	return bal, true
}

// Set stores a balance read from Postgres, bounded by balanceCacheTTL.
func (c *BalanceCache) Set(ctx context.Context, userID string, balance int64) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, balanceKey(userID), balance, balanceCacheTTL).Err(); err != nil {
		slog.Warn("balance cache write failed", "user_id", userID, "error", err)
	}
}

// Invalidate drops cached balances after committed mutations. Deleting
// instead of writing the new value keeps concurrent mutations from racing
// their post-commit cache writes into the wrong order.
func (c *BalanceCache) Invalidate(ctx context.Context, userIDs ...string) {
	if c == nil || c.rdb == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = balanceKey(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("balance cache invalidation failed", "keys", len(keys), "error", err)
	}
}
