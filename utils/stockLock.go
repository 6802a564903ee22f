package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/fieldmaxhq/inventory_backend/config"
)

// StockLock serializes stock-mutating requests per product across instances.
//
// This is a best-effort optimization: it shortens the window in which two
// checkouts pile up on the same MySQL row locks. Correctness does not depend
// on it — every mutation still takes SELECT ... FOR UPDATE inside its own
// transaction. When redis is down or unset we proceed without the lock.
//
// The returned release func is never nil.
func StockLock(ctx context.Context, productIds []int, moduleName string, functionName string) (release func(), err error) {
	release = func() {}

	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return release, nil
	}

	locks := make([]*redislock.Lock, 0, len(productIds))
	releaseAll := func() {
		for _, l := range locks {
			_ = l.Release(context.Background())
		}
	}

	// Same fixed ordering as the row locks, so two multi-line checkouts
	// cannot deadlock on the redis layer either.
	for _, id := range UniqueSlice(productIds) {
		lockKey := fmt.Sprintf("stock:product:%d", id)
		lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
		})
		if err == redislock.ErrNotObtained {
			config.LogError(logger, moduleName, functionName, "could not obtain stock lock", lockKey, err)
			// Fall through: MySQL row locks remain the source of truth.
			continue
		} else if err != nil {
			config.LogError(logger, moduleName, functionName, "error obtaining stock lock", lockKey, err)
			continue
		}
		locks = append(locks, lock)
	}

	return releaseAll, nil
}
