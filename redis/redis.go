package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Breeze1203/shophub-support/config"
)

const (
	dialTimeout = 5 * time.Second
	ioTimeout   = 3 * time.Second
)

// RedisClient 事件总线、在线状态、房间锁和限流共用一个连接池
type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient 建立连接池，PING 不通直接返回错误
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	rc := &RedisClient{Client: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Client.Close()
		return nil, err
	}
	return rc, nil
}

// Ping 健康检查用
func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", r.Client.Options().Addr, err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}
