package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("redis: key not found")

// OperationObserver is notified of every command outcome. *metrics.Metrics
// satisfies it.
type OperationObserver interface {
	IncRedisOperation(operation, status string)
}

type Client struct {
	rdb      *redis.Client
	observer OperationObserver
	logger   zerolog.Logger
}

func NewClient(host string, port int, password string, db int, observer OperationObserver, logger zerolog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("addr", fmt.Sprintf("%s:%d", host, port)).Msg("Connected to Redis")

	return &Client{
		rdb:      rdb,
		observer: observer,
		logger:   logger.With().Str("component", "redis").Logger(),
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.track("ping", c.rdb.Ping(ctx).Err())
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.track("set", c.rdb.Set(ctx, key, value, expiration).Err())
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.track("get", nil)
		return "", ErrNotFound
	}
	return val, c.track("get", err)
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.track("del", c.rdb.Del(ctx, keys...).Err())
}

func (c *Client) HSet(ctx context.Context, key string, field string, value interface{}) error {
	return c.track("hset", c.rdb.HSet(ctx, key, field, value).Err())
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		c.track("hget", nil)
		return "", ErrNotFound
	}
	return val, c.track("hget", err)
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := c.rdb.HGetAll(ctx, key).Result()
	return val, c.track("hgetall", err)
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.track("expire", c.rdb.Expire(ctx, key, expiration).Err())
}

func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.track("publish", c.rdb.Publish(ctx, channel, message).Err())
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

func (c *Client) track(operation string, err error) error {
	if c.observer != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.observer.IncRedisOperation(operation, status)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("operation", operation).Msg("Redis operation failed")
	}
	return err
}
