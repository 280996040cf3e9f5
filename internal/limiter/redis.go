package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// tokenBucket refills at ARGV[1] tokens/s up to ARGV[2], ARGV[3] is now in ms.
// Returns {allowed, retry_after_ms}.
var tokenBucket = goredis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local st = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(st[1])
local ts = tonumber(st[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', key, math.ceil(burst * 1000 / rate) + 1000)
return {allowed, retry}
`)

// Redis is a distributed token bucket shared by all relay instances.
type Redis struct {
	client goredis.Scripter
	prefix string
	policy Policy
	now    func() time.Time
}

// NewRedis constructs a Redis limiter. Keys are stored as "ratelimit:<prefix>:<key>".
func NewRedis(client goredis.Scripter, prefix string, p Policy) *Redis {
	return &Redis{client: client, prefix: prefix, policy: p, now: time.Now}
}

// Allow consumes one token for key.
func (l *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)
	res, err := tokenBucket.Run(ctx, l.client, []string{k},
		strconv.FormatFloat(l.policy.Rate, 'f', -1, 64),
		l.policy.Burst,
		l.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit result format")
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}
