package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix    = "support:lock:"
	defaultTTL    = 10 * time.Second
	retryInterval = 20 * time.Millisecond
)

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 多实例共享的房间锁（SET NX PX）。不续期，ttl 要大于持锁期间的最长耗时（见 ChatConfig.LockTTL）；
// 锁过期后由数据库 CAS 兜底
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l.rdb == nil {
		return nil, errors.New("redis client required")
	}
	key = lockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 解锁不跟随调用方的 ctx，避免请求取消后锁一直挂到过期
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = unlockScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}
