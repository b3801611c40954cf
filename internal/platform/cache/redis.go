// Package cache builds the Redis client shared by the chart cache.
package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Client is the Redis client type used across the service.
type Client = redis.Client

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return redis.NewClient(opts), nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

func Close(client *redis.Client) error {
	return client.Close()
}
