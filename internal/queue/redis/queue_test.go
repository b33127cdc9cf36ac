package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

func TestQueuePushPopFIFO(t *testing.T) {
	t.Parallel()

	client := newFakeListClient()
	q := NewWithClient(client, Config{PopTimeout: 5 * time.Millisecond})
	ctx := context.Background()

	first := crawler.Payload{TaskID: 1, Kind: crawler.TaskKindFull, URL: "https://whc.unesco.org/en/list/"}
	second := crawler.Payload{TaskID: 2, Kind: crawler.TaskKindSingle, URL: "https://whc.unesco.org/en/list/326"}
	require.NoError(t, q.Push(ctx, first))
	require.NoError(t, q.Push(ctx, second))
	require.JSONEq(t, `{"task_id":1,"task_type":"full","url":"https://whc.unesco.org/en/list/"}`, client.lists[DefaultStartKey][1])

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, first, got)
	got, err = q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestQueuePopWaitsAcrossTimeouts(t *testing.T) {
	t.Parallel()

	client := newFakeListClient()
	q := NewWithClient(client, Config{PopTimeout: 2 * time.Millisecond})
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(ctx, crawler.Payload{TaskID: 9, Kind: crawler.TaskKindSingle, URL: "https://example.com/9"})
	}()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(9), got.TaskID)
}

func TestQueuePopCanceled(t *testing.T) {
	t.Parallel()

	q := NewWithClient(newFakeListClient(), Config{PopTimeout: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueuePopMalformedPayload(t *testing.T) {
	t.Parallel()

	client := newFakeListClient()
	client.lists[DefaultStartKey] = []string{`{"task_id":"x"}`}
	q := NewWithClient(client, Config{PopTimeout: time.Millisecond})
	_, err := q.Pop(context.Background())
	require.ErrorContains(t, err, "malformed payload")
	require.Empty(t, client.lists[DefaultStartKey])
}

func TestQueueClearRemovesBothLists(t *testing.T) {
	t.Parallel()

	client := newFakeListClient()
	q := NewWithClient(client, Config{PopTimeout: time.Millisecond})
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, q.Push(ctx, crawler.Payload{TaskID: int64(i + 1), Kind: crawler.TaskKindSingle, URL: "https://example.com"}))
	}
	client.lists[DefaultRequestKey] = []string{"req"}

	cleared, err := q.Clear(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), cleared)
	require.Equal(t, []string{DefaultStartKey, DefaultRequestKey}, client.deleted)

	popCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Pop(popCtx)
	require.Error(t, err)
}

func TestQueueUnavailable(t *testing.T) {
	t.Parallel()

	client := newFakeListClient()
	client.err = errors.New("dial tcp: connection refused")
	q := NewWithClient(client, Config{PopTimeout: time.Millisecond})
	ctx := context.Background()

	require.ErrorIs(t, q.Push(ctx, crawler.Payload{TaskID: 1, Kind: crawler.TaskKindFull, URL: "u"}), crawler.ErrQueueUnavailable)
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueUnavailable)
	_, err = q.Clear(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueUnavailable)
	require.ErrorIs(t, q.Ping(ctx), crawler.ErrQueueUnavailable)
}

// --- fakes ---

type fakeListClient struct {
	mu      sync.Mutex
	lists   map[string][]string
	deleted []string
	err     error
}

func newFakeListClient() *fakeListClient {
	return &fakeListClient{lists: make(map[string][]string)}
}

func (c *fakeListClient) LPush(_ context.Context, key string, values ...interface{}) *goredis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return goredis.NewIntResult(0, c.err)
	}
	for _, v := range values {
		var s string
		switch typed := v.(type) {
		case []byte:
			s = string(typed)
		case string:
			s = typed
		}
		c.lists[key] = append([]string{s}, c.lists[key]...)
	}
	return goredis.NewIntResult(int64(len(c.lists[key])), nil)
}

func (c *fakeListClient) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return goredis.NewStringSliceResult(nil, c.err)
	}
	for _, key := range keys {
		list := c.lists[key]
		if len(list) == 0 {
			continue
		}
		val := list[len(list)-1]
		c.lists[key] = list[:len(list)-1]
		c.mu.Unlock()
		return goredis.NewStringSliceResult([]string{key, val}, nil)
	}
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return goredis.NewStringSliceResult(nil, ctx.Err())
	case <-time.After(timeout):
		return goredis.NewStringSliceResult(nil, goredis.Nil)
	}
}

func (c *fakeListClient) LLen(_ context.Context, key string) *goredis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return goredis.NewIntResult(0, c.err)
	}
	return goredis.NewIntResult(int64(len(c.lists[key])), nil)
}

func (c *fakeListClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return goredis.NewIntResult(0, c.err)
	}
	var n int64
	for _, key := range keys {
		if _, ok := c.lists[key]; ok {
			n++
		}
		delete(c.lists, key)
		c.deleted = append(c.deleted, key)
	}
	return goredis.NewIntResult(n, nil)
}

func (c *fakeListClient) Ping(context.Context) *goredis.StatusCmd {
	if c.err != nil {
		return goredis.NewStatusResult("", c.err)
	}
	return goredis.NewStatusResult("PONG", nil)
}

func (c *fakeListClient) Close() error {
	return nil
}
