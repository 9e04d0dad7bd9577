package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects to Redis and checks the connection with a PING.
func NewRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func sessionKey(uniqueID string) string { return "dev:" + uniqueID + ":session" }
func originKey(uniqueID string) string  { return "dev:" + uniqueID + ":origin" }
func lastKey(session string) string     { return "pos:" + session + ":last" }
