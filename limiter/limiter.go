package limiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StrategyFixedWindow = "fixed_window"
	StrategyTokenBucket = "token_bucket"
)

// Strategy 定义限流算法策略接口
type Strategy interface {
	// Allow 检查是否允许通过
	// key: 限流标识 (客户 ID、会话令牌或 IP)
	// limit: 限制次数 (或令牌桶容量)
	// window: 时间窗口 (令牌桶在一个窗口内补满)
	Allow(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (bool, error)
}

// NewStrategy 按配置名选择策略
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyFixedWindow:
		return &FixedWindowStrategy{}, nil
	case StrategyTokenBucket:
		return &TokenBucketStrategy{now: time.Now}, nil
	}
	return nil, fmt.Errorf("limiter: unknown strategy %q", name)
}

// Manager 限流管理器
type Manager struct {
	rdb      *redis.Client
	strategy Strategy
	limit    int
	window   time.Duration
}

func NewManager(rdb *redis.Client, strategy Strategy, limit int, window time.Duration) *Manager {
	return &Manager{
		rdb:      rdb,
		strategy: strategy,
		limit:    limit,
		window:   window,
	}
}

// Allow 代理执行具体的策略
func (m *Manager) Allow(ctx context.Context, key string) (bool, error) {
	return m.strategy.Allow(ctx, m.rdb, key, m.limit, m.window)
}

// Lua 脚本：原子性执行 INCR 和 PEXPIRE
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
-- 第一次访问时设置过期时间
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// 固定窗口 (Fixed Window / Counter)
type FixedWindowStrategy struct{}

func (s *FixedWindowStrategy) Allow(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (bool, error) {
	result, err := fixedWindowScript.Run(ctx, rdb, []string{key}, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// 令牌桶：记录剩余令牌数和上次刷新时间（毫秒），按时间差补充令牌
// ARGV[1]: 桶容量  ARGV[2]: 每毫秒生成的令牌数  ARGV[3]: 当前时间  ARGV[4]: key 过期时间
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local info = redis.call("HMGET", KEYS[1], "tokens", "last_time")
local tokens = tonumber(info[1])
local last_time = tonumber(info[2])
if tokens == nil then
	tokens = capacity
	last_time = now
end

local delta = math.max(0, now - last_time)
tokens = math.min(capacity, tokens + delta * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_time", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return allowed
`)

// 策略 2: 令牌桶 (Token Bucket)
type TokenBucketStrategy struct {
	now func() time.Time
}

func (s *TokenBucketStrategy) Allow(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (bool, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	rate := float64(limit) / float64(ms)
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ttl := int64(math.Max(float64(ms)*2, 1000))

	result, err := tokenBucketScript.Run(ctx, rdb, []string{key}, limit, rate, now().UnixMilli(), ttl).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
