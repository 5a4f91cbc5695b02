package lock

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens per second up to
// ARGV[2] and takes one token. It returns {allowed, remaining, wait_ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local t = redis.call("TIME")
local now_ms = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last_ms = tonumber(state[2]) or now_ms
local elapsed = math.max(0, now_ms - last_ms)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", KEYS[1], ttl_ms)
return {allowed, math.floor(tokens), wait_ms}
`

// TokenBucket throttles checkout attempts per user.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client, rate float64, burst int) *TokenBucket {
	if client == nil || rate <= 0 || burst <= 0 {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   rate,
		burst:  burst,
	}
}

// Allow takes one token from key. A nil bucket allows everything.
func (t *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{Allowed: true}, nil
	}
	if key == "" {
		return Decision{}, errors.New("rate limiter key is empty")
	}

	ttl := bucketTTL(t.rate, t.burst)
	res, err := t.script.Run(ctx, t.client, []string{keyRate + key}, t.rate, t.burst, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, errors.New("invalid rate limit script response")
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// bucketTTL keeps an idle bucket for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	return time.Duration(math.Max(1, math.Ceil(2*float64(burst)/rate))) * time.Second
}
