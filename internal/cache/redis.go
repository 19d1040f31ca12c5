package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"layered-signals/internal/domain"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

var (
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
	parseRedisURL = redis.ParseURL
)

func InitRedis(ctx context.Context) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}

	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := parseRedisURL(addr)
		if err != nil {
			log.Fatalf("failed to parse REDIS_URL: %v", err)
		}
		opts = parsed
	}

	Client = newRedisClient(opts)
	if err := pingRedis(ctx, Client); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")
}

const latestSignalTTL = 48 * time.Hour

// SignalCache keeps the latest emitted signal per symbol+timeframe so
// "what is the current recommendation" reads never hit Postgres.
type SignalCache struct {
	redis RedisClient
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

func NewSignalCache(redisClient RedisClient) *SignalCache {
	return &SignalCache{redis: redisClient}
}

func latestSignalKey(symbol, timeframe string) string {
	return "signal:latest:" + symbol + ":" + timeframe
}

func (c *SignalCache) SetLatest(ctx context.Context, signal domain.Signal) error {
	if c == nil || c.redis == nil {
		return nil
	}
	data, err := json.Marshal(signal)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, latestSignalKey(signal.Symbol, signal.Timeframe), data, latestSignalTTL).Err()
}

// GetLatest returns (nil, nil) on a cache miss.
func (c *SignalCache) GetLatest(ctx context.Context, symbol, timeframe string) (*domain.Signal, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}
	data, err := c.redis.Get(ctx, latestSignalKey(symbol, timeframe)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var signal domain.Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil, err
	}
	return &signal, nil
}
