package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"layered-signals/internal/domain"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(data), nil)
}

func TestSignalCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewSignalCache(newFakeRedis())
	signal := domain.Signal{
		ID:        7,
		Symbol:    "BTC",
		Timeframe: "1h",
		Direction: domain.DirectionLong,
		Score:     71.5,
	}

	if err := c.SetLatest(context.Background(), signal); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	got, err := c.GetLatest(context.Background(), "BTC", "1h")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got == nil || got.ID != 7 || got.Direction != domain.DirectionLong {
		t.Fatalf("unexpected cached signal: %+v", got)
	}
}

func TestSignalCacheMissReturnsNil(t *testing.T) {
	t.Parallel()

	c := NewSignalCache(newFakeRedis())
	got, err := c.GetLatest(context.Background(), "ETH", "4h")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}

func TestSignalCacheNilClientIsNoop(t *testing.T) {
	t.Parallel()

	c := NewSignalCache(nil)
	if err := c.SetLatest(context.Background(), domain.Signal{Symbol: "BTC", Timeframe: "1h"}); err != nil {
		t.Fatalf("nil client set should be a no-op: %v", err)
	}
	got, err := c.GetLatest(context.Background(), "BTC", "1h")
	if err != nil || got != nil {
		t.Fatalf("nil client get should return nil, nil; got %+v, %v", got, err)
	}
}
