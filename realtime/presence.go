package realtime

import (
	"context"
	"sync"
)

// Presence 在线客服登记
type Presence interface {
	Online(ctx context.Context, agentID, name string) error
	Offline(ctx context.Context, agentID string) error
	OnlineAgents(ctx context.Context) (map[string]string, error)
}

// LocalPresence 单实例部署时的在线客服表
type LocalPresence struct {
	mu    sync.Mutex
	names map[string]string
	conns map[string]int
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{names: make(map[string]string), conns: make(map[string]int)}
}

func (p *LocalPresence) Online(_ context.Context, agentID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[agentID] = name
	p.conns[agentID]++
	return nil
}

func (p *LocalPresence) Offline(_ context.Context, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[agentID]--
	if p.conns[agentID] <= 0 {
		delete(p.conns, agentID)
		delete(p.names, agentID)
	}
	return nil
}

func (p *LocalPresence) OnlineAgents(context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.names))
	for id, name := range p.names {
		out[id] = name
	}
	return out, nil
}
