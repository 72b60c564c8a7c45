package realtime

import (
	"context"
	"errors"
	"sync"
)

var ErrBusNotStarted = errors.New("bus not started")

// Bus 跨实例的事件分发。Publish 发出的事件会在每个实例的 deliver 回调上出现一次
type Bus interface {
	Publisher
	Start(ctx context.Context, deliver func(Event)) error
	Close() error
}

// LocalBus 单实例部署：直接同步投递
type LocalBus struct {
	mu      sync.RWMutex
	deliver func(Event)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Start(_ context.Context, deliver func(Event)) error {
	if deliver == nil {
		return errors.New("deliver callback required")
	}
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver == nil {
		return ErrBusNotStarted
	}
	deliver(ev)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.deliver = nil
	b.mu.Unlock()
	return nil
}
