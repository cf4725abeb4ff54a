package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisLimiter.
type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	MaxRetries        int
	PoolSize          int
	RequestsPerSecond int
	BurstSize         int
}

// DefaultRedisConfig returns sensible defaults for the local dev Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:              "localhost:6379",
		DB:                0,
		MaxRetries:        3,
		PoolSize:          10,
		RequestsPerSecond: 10,
		BurstSize:         20,
	}
}

// redisTokenBucketScript implements the same token-bucket math as the
// in-process bucket in ratelimit.go, but atomically server-side so that
// multiple API replicas share one limit per key instead of each holding
// its own independent bucket.
const redisTokenBucketScript = `
local key = KEYS[1]
local rps = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + elapsed * rps)

local allowed = 0
if tokens >= 1.0 then
  tokens = tokens - 1.0
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, 300)

return {allowed, tokens}
`

// RedisLimiter is a distributed token-bucket limiter backed by Redis,
// used across API replicas so a caller's concurrent compile/run quota is
// shared instead of per-process.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
	config RedisConfig
	script *redis.Script
}

// NewRedisLimiter dials Redis and verifies connectivity.
func NewRedisLimiter(config RedisConfig, logger *slog.Logger) (*RedisLimiter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: connect to redis: %w", err)
	}

	logger.Info("redis rate limiter initialized", "addr", config.Addr, "rps", config.RequestsPerSecond, "burst", config.BurstSize)

	return &RedisLimiter{
		client: client,
		logger: logger,
		config: config,
		script: redis.NewScript(redisTokenBucketScript),
	}, nil
}

// Allow reports whether a request for key should proceed.
func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	allowed, _, err := r.evaluate(ctx, key)
	if err != nil {
		r.logger.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return true
	}
	return allowed
}

// Remaining returns the estimated tokens left for key.
func (r *RedisLimiter) Remaining(ctx context.Context, key string) int64 {
	_, tokens, err := r.evaluate(ctx, key)
	if err != nil {
		return int64(r.config.BurstSize)
	}
	return int64(tokens)
}

func (r *RedisLimiter) evaluate(ctx context.Context, key string) (bool, float64, error) {
	res, err := r.script.Run(ctx, r.client, []string{"ratelimit:" + key},
		r.config.RequestsPerSecond, r.config.BurstSize, float64(time.Now().UnixNano())/1e9,
	).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}

	allowed, _ := values[0].(int64)
	tokens, _ := parseFloat(values[1])
	return allowed == 1, tokens, nil
}

func parseFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Close releases the underlying Redis client connections.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
