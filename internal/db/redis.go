package db

import (
	"context"
	"time"

	"github.com/jmehdipour/newsletter/internal/config"
	"github.com/redis/go-redis/v9"
)

// OpenRedis connects the client shared by the send limiter and the subscribe limiter.
// The dial timeout (default 5s) also bounds the startup ping.
func OpenRedis(c config.RedisConfig) (*redis.Client, error) {
	dial := c.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: dial,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
