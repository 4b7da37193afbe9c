package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueSequencer hands out walk-in queue numbers with INCR, one key per doctor
// and day. INCR is atomic on the server, so concurrent callers never share a
// number, and different keys never contend.
type QueueSequencer struct {
	client    *redis.Client
	retention time.Duration
}

// NewQueueSequencer keeps each day's counter for retention after its last use.
// Retention must outlive the day, otherwise a late registration restarts at 1.
func NewQueueSequencer(client *redis.Client, retention time.Duration) *QueueSequencer {
	if retention < 48*time.Hour {
		retention = 48 * time.Hour
	}
	return &QueueSequencer{client: client, retention: retention}
}

func queueKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("queue:%s:%s", doctorID, day.Format(time.DateOnly))
}

func (s *QueueSequencer) NextQueueNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	key := queueKey(doctorID, day)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("next queue number: %w", err)
	}

	return int(incr.Val()), nil
}
