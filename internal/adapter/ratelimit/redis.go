package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/proxywhirl/proxywhirl/internal/config"
)

// slidingWindowScript runs the whole prune-count-append sequence in one
// atomic step on the server. Scores are admit times in microseconds on
// the caller's clock; members carry a nonce so same-microsecond admits
// do not collapse into one entry.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])
local nonce = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, count, oldest[2]}
end

if consume == 1 then
	redis.call('ZADD', key, now, nonce)
	redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1000)
	count = count + 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = '0'
if oldest[2] then
	score = oldest[2]
end
return {1, count, score}
`)

// redisBackend shares one limiter state between engine instances.
type redisBackend struct {
	client *redis.Client
	prefix string
}

func newRedisBackend(cfg config.RedisConfig) *redisBackend {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "proxywhirl:ratelimit:"
	}
	return &redisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

func (b *redisBackend) take(ctx context.Context, key string, limit int, window time.Duration) (outcome, error) {
	return b.run(ctx, key, limit, window, true)
}

func (b *redisBackend) peek(ctx context.Context, key string, limit int, window time.Duration) (outcome, error) {
	return b.run(ctx, key, limit, window, false)
}

func (b *redisBackend) run(ctx context.Context, key string, limit int, window time.Duration, consume bool) (outcome, error) {
	consumeFlag := 0
	nonce := "peek"
	if consume {
		consumeFlag = 1
		nonce = uuid.NewString()
	}

	res, err := slidingWindowScript.Run(ctx, b.client,
		[]string{b.prefix + key},
		time.Now().UnixMicro(), window.Microseconds(), limit, consumeFlag, nonce,
	).Slice()
	if err != nil {
		return outcome{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return outcome{}, fmt.Errorf("rate limit script: unexpected reply of %d values", len(res))
	}

	allowed, err := scriptInt(res[0])
	if err != nil {
		return outcome{}, err
	}
	count, err := scriptInt(res[1])
	if err != nil {
		return outcome{}, err
	}
	oldestMicros, err := scriptScore(res[2])
	if err != nil {
		return outcome{}, err
	}

	out := outcome{allowed: allowed == 1, count: int(count)}
	if oldestMicros > 0 {
		out.oldest = time.UnixMicro(oldestMicros)
	}
	return out, nil
}

func (b *redisBackend) close() error {
	return b.client.Close()
}

func scriptInt(v interface{}) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("rate limit script: expected integer reply, got %T", v)
	}
	return n, nil
}

// scriptScore parses a sorted-set score, which Redis hands back as a
// string and may format with an exponent.
func scriptScore(v interface{}) (int64, error) {
	switch score := v.(type) {
	case int64:
		return score, nil
	case string:
		f, err := strconv.ParseFloat(score, 64)
		if err != nil {
			return 0, fmt.Errorf("rate limit script: bad score %q: %w", score, err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("rate limit script: expected score reply, got %T", v)
	}
}
