package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// AcquireRefundLock guards one refund attempt per booking across concurrent
// termination runs. The TTL bounds how long a crashed run can hold the lock.
func (c *Cache) AcquireRefundLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "refund:"+bookingID, "1", ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseRefundLock(ctx context.Context, bookingID string) error {
	return c.client.Del(ctx, "refund:"+bookingID).Err()
}
