package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stall-reservation/internal/models"

	"github.com/go-redis/redis/v8"
)

// AdminUpdatesChannel carries pings for admin dashboards
const AdminUpdatesChannel = "admin:updates"

// bookedStallsTTL bounds how long a stale snapshot survives if broadcasts stop
const bookedStallsTTL = 24 * time.Hour

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// StallsChannel is the pub/sub channel of one book fair's stall map
func StallsChannel(fairEventID int64) string {
	return fmt.Sprintf("stalls:%d", fairEventID)
}

func bookedStallsKey(fairEventID int64) string {
	return fmt.Sprintf("booked_stalls:%d", fairEventID)
}

// PublishBookedStalls stores the latest booked stall snapshot of an event and
// publishes it to the event's stall channel. Stall-map clients read the
// snapshot on connect and follow the channel afterwards.
func (c *Client) PublishBookedStalls(ctx context.Context, msg *models.BookedStallsMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal booked stalls: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, bookedStallsKey(msg.FairEventID), payload, bookedStallsTTL)
	pipe.Publish(ctx, StallsChannel(msg.FairEventID), payload)

	_, err = pipe.Exec(ctx)
	return err
}

// PublishAdminUpdate pings admin dashboards
func (c *Client) PublishAdminUpdate(ctx context.Context, msg *models.AdminUpdateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal admin update: %w", err)
	}
	return c.rdb.Publish(ctx, AdminUpdatesChannel, payload).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
