package dispatch

import (
	"fmt"
	"time"

	"github.com/apysky/broadcast-scheduler/pkg/logger"
	"github.com/apysky/broadcast-scheduler/pkg/redis"
)

const lockKeyPrefix = "dispatch:lock:"

// Locker guards each schedule with a redis SetNX lock so two dispatcher
// processes never work the same record at once. The conditional status update
// in the store is the second line of defense; the lock exists to avoid even
// attempting a claim that another process already holds.
type Locker struct {
	redis redis.Adapter
	ttl   time.Duration
}

func NewLocker(adapter redis.Adapter, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{redis: adapter, ttl: ttl}
}

// Acquire takes the dispatch lock for a schedule. The TTL backstops a crashed
// dispatcher: the lock expires and the record, still in_progress in the store,
// becomes visible to operators rather than silently retried.
func (l *Locker) Acquire(scheduleID string) (bool, error) {
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	acquired, err := l.redis.SetNX(lockKeyPrefix+scheduleID, lockValue, l.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	if !acquired {
		logger.Debug("dispatch lock already held", "schedule_id", scheduleID)
	}
	return acquired, nil
}

func (l *Locker) Release(scheduleID string) {
	if err := l.redis.Del(lockKeyPrefix + scheduleID); err != nil {
		logger.Warn("failed to release dispatch lock", "schedule_id", scheduleID, "error", err)
	}
}
