// Package cache keeps users' visit progress in Redis in front of Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"visitmap/internal/store"
)

// ErrMiss means no cached progress exists for the user.
var ErrMiss = errors.New("progress cache miss")

type Options struct {
	TTL    time.Duration
	Logger *zap.Logger
	// Consecutive Redis failures that open the breaker.
	FailureThreshold uint32
	// How long the breaker stays open before probing Redis again.
	OpenTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 3
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
	return o
}

// ProgressCache stores store.Progress per user. Every call goes through a
// circuit breaker; while it is open calls fail fast with
// gobreaker.ErrOpenState and callers fall back to the database.
type ProgressCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProgressCache connects to redisURL and checks the connection.
func NewProgressCache(redisURL string, opts Options) (*ProgressCache, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewProgressCacheWithClient(client, opts), nil
}

// NewProgressCacheWithClient creates a cache from an existing Redis client
func NewProgressCacheWithClient(client *redis.Client, opts Options) *ProgressCache {
	opts = opts.withDefaults()
	logger := opts.Logger
	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "progress-cache",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
	})
	return &ProgressCache{
		client:  client,
		prefix:  "progress:",
		ttl:     opts.TTL,
		breaker: breaker,
		logger:  logger,
	}
}

func (c *ProgressCache) key(userID string) string {
	return c.prefix + userID
}

// entry is the stored form: the progress and the version it was read at.
type entry struct {
	Version  int64          `json:"version"`
	Progress store.Progress `json:"progress"`
}

// Get returns the cached progress and the progress version it reflects.
// Callers compare the version against the database before trusting it.
func (c *ProgressCache) Get(ctx context.Context, userID string) (store.Progress, int64, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		if err != nil {
			return nil, fmt.Errorf("read cached progress: %w", err)
		}
		return raw, nil
	})
	if err != nil {
		return store.Progress{}, 0, err
	}

	var e entry
	if err := json.Unmarshal(v.([]byte), &e); err != nil {
		return store.Progress{}, 0, fmt.Errorf("decode cached progress: %w", err)
	}
	return e.Progress, e.Version, nil
}

func (c *ProgressCache) Set(ctx context.Context, userID string, version int64, progress store.Progress) error {
	data, err := json.Marshal(entry{Version: version, Progress: progress})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	_, err = c.breaker.Execute(func() (any, error) {
		if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("cache progress: %w", err)
		}
		return nil, nil
	})
	return err
}

// Invalidate drops the cached progress after a mutation.
func (c *ProgressCache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
			return nil, fmt.Errorf("invalidate progress: %w", err)
		}
		return nil, nil
	})
	return err
}

// Close closes the Redis connection
func (c *ProgressCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *ProgressCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
