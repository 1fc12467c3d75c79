package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "clobrelay/config"
	"clobrelay/logger"
)

// Client wraps the Redis connection behind the four primitive operations the
// relay performs. Every operation is a single round trip with no local retry;
// callers decide whether a failure is worth more than a log line.
type Client struct {
	rdb *redis.Client
	log *logger.Log
}

// New creates a store client and verifies connectivity with a short ping.
func New(cfg appconfig.StoreConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	log := logger.GetLogger()
	log.WithComponent("store").WithFields(logger.Fields{
		"addr": fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"db":   cfg.Database,
	}).Info("store client initialized")

	return &Client{
		rdb: rdb,
		log: log,
	}, nil
}

// UpsertFields merge-writes the named fields onto a hash record. Values are
// strings only; complex fields are pre-serialized by the caller.
func (c *Client) UpsertFields(ctx context.Context, key string, fields map[string]string) error {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := c.rdb.HSet(ctx, key, args).Err(); err != nil {
		return err
	}
	logger.IncrementStoreWrite()
	return nil
}

// PushCapped prepends value to the list at key and truncates it to maxLen
// entries. Both commands run in one MULTI/EXEC round trip so a reader never
// observes the list above its cap.
func (c *Client) PushCapped(ctx context.Context, key string, value string, maxLen int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	logger.IncrementStoreWrite()
	return nil
}

// SetExpiry sets or refreshes the TTL on a key.
func (c *Client) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// ReadSetMembers returns all members of a set-typed key.
func (c *Client) ReadSetMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
