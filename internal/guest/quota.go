package guest

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/wqooops/report-card-comments/internal/queue"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// Counter is the shared atomic counter behind the quota. Incr must be
// atomic across concurrent callers; Value reports zero for keys never
// incremented.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Value(ctx context.Context, key string) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

func NewRedisCounter(redisClient *queue.RedisClient) Counter {
	return redisCounter{client: redisClient.Client()}
}

func (r redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r redisCounter) Value(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Quota meters unauthenticated generation by client IP. The count is
// lifetime, not rolling: the free tier exists to demo the product, not to
// be a recurring allowance.
type Quota struct {
	counter Counter
	limit   int
}

func NewQuota(counter Counter, limit int) *Quota {
	return &Quota{
		counter: counter,
		limit:   limit,
	}
}

func key(ip string) string {
	return fmt.Sprintf("guest_usage:%s", ip)
}

// Take consumes one guest generation for ip, failing with
// ErrGuestLimitReached once the limit is hit. INCR keeps the
// check-and-count atomic across concurrent requests.
func (q *Quota) Take(ctx context.Context, ip string) error {
	count, err := q.counter.Incr(ctx, key(ip))
	if err != nil {
		return err
	}

	if count > int64(q.limit) {
		return pkgerrors.ErrGuestLimitReached
	}

	return nil
}

// Remaining reports how many free generations ip has left.
func (q *Quota) Remaining(ctx context.Context, ip string) (int, error) {
	count, err := q.counter.Value(ctx, key(ip))
	if err != nil {
		return 0, err
	}

	remaining := q.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
