package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/realtime"
)

const DefaultChannel = "support:events"

// Bus 通过 Redis pub/sub 在多个实例间转发事件；每个实例都订阅同一个频道
type Bus struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string

	mu  sync.Mutex
	sub *redis.PubSub
}

func NewBus(rdb *redis.Client, channel string, log *logger.Logger) (*Bus, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		log:     log.With("component", "redis_bus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, ev realtime.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *Bus) Start(ctx context.Context, deliver func(realtime.Event)) error {
	if deliver == nil {
		return errors.New("deliver callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)

	// 确认订阅已经生效
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev realtime.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad redis event payload", "error", err)
					continue
				}
				deliver(ev)
			}
		}
	}()
	return nil
}

// Close 只关闭订阅，客户端由调用方管理
func (b *Bus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}
