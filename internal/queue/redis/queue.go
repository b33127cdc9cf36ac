// Package redis implements the work queue on a Redis list so the API and
// standalone worker processes can share it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// Default keys, shared with existing deployments of the crawler.
const (
	DefaultStartKey   = "heritage_spider:start_urls"
	DefaultRequestKey = "heritage_spider:requests"
)

const defaultPopTimeout = 2 * time.Second

// Config captures the Redis connection and key layout.
type Config struct {
	Addr       string
	Password   string
	DB         int
	StartKey   string
	RequestKey string
	// PopTimeout bounds each BRPOP round trip so cancellation is observed.
	PopTimeout time.Duration
}

type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Queue pushes with LPUSH and pops with BRPOP, giving FIFO order.
type Queue struct {
	client     listClient
	startKey   string
	requestKey string
	popTimeout time.Duration
}

// New connects a Queue to the configured Redis server.
func New(cfg Config) *Queue {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg)
}

// NewWithClient wraps an existing client, primarily for tests.
func NewWithClient(client listClient, cfg Config) *Queue {
	if cfg.StartKey == "" {
		cfg.StartKey = DefaultStartKey
	}
	if cfg.RequestKey == "" {
		cfg.RequestKey = DefaultRequestKey
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	return &Queue{
		client:     client,
		startKey:   cfg.StartKey,
		requestKey: cfg.RequestKey,
		popTimeout: cfg.PopTimeout,
	}
}

// Push appends a JSON payload to the start list.
func (q *Queue) Push(ctx context.Context, payload crawler.Payload) error {
	data, err := crawler.EncodePayload(payload)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.startKey, data).Err(); err != nil {
		return fmt.Errorf("%w: lpush %s: %v", crawler.ErrQueueUnavailable, q.startKey, err)
	}
	return nil
}

// Pop blocks until a payload is available or ctx is done. A malformed
// payload is consumed and reported as an error so the caller can log it.
func (q *Queue) Pop(ctx context.Context) (crawler.Payload, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.Payload{}, fmt.Errorf("pop canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.popTimeout, q.startKey).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.Payload{}, fmt.Errorf("pop canceled: %w", ctxErr)
			}
			return crawler.Payload{}, fmt.Errorf("%w: brpop %s: %v", crawler.ErrQueueUnavailable, q.startKey, err)
		}
		if len(res) != 2 {
			return crawler.Payload{}, fmt.Errorf("brpop %s: unexpected reply %v", q.startKey, res)
		}
		payload, err := crawler.DecodePayload([]byte(res[1]))
		if err != nil {
			return crawler.Payload{}, fmt.Errorf("malformed payload %q: %w", res[1], err)
		}
		return payload, nil
	}
}

// Clear deletes the start list and the request list. The returned count is
// the start list length observed just before deletion.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	pending, err := q.client.LLen(ctx, q.startKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: llen %s: %v", crawler.ErrQueueUnavailable, q.startKey, err)
	}
	if err := q.client.Del(ctx, q.startKey, q.requestKey).Err(); err != nil {
		return 0, fmt.Errorf("%w: del %s: %v", crawler.ErrQueueUnavailable, q.startKey, err)
	}
	return pending, nil
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", crawler.ErrQueueUnavailable, err)
	}
	return nil
}

// Close releases the client connection pool.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
