// Package redis holds the Redis handle shared by the transaction view cache,
// the rate limiter, the event streams and the reconciler's processed markers.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// PoolSize defaults to 10.
	PoolSize int
}

type Client struct {
	*goredis.Client
}

// Connect dials Redis and fails unless it answers PING within the dial timeout.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Addr, err)
	}
	return &Client{Client: rdb}, nil
}

// Check is the readiness probe for Redis.
func (c *Client) Check(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
