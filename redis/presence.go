package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	onlineAgentsKey = "support:agents:online_users"
	agentConnsKey   = "support:agents:connections"
)

// 连接数归零时才把客服移出在线列表
var offlineScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[2], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[2], ARGV[1])
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// Presence 在线客服列表：hash 里 agentID -> 显示名，同一客服多个连接按计数处理
type Presence struct {
	rdb *redis.Client
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb}
}

func (p *Presence) Online(ctx context.Context, agentID, name string) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, onlineAgentsKey, agentID, name)
		pipe.HIncrBy(ctx, agentConnsKey, agentID, 1)
		return nil
	})
	return err
}

func (p *Presence) Offline(ctx context.Context, agentID string) error {
	return offlineScript.Run(ctx, p.rdb, []string{onlineAgentsKey, agentConnsKey}, agentID).Err()
}

// OnlineAgents 获取在线客服
func (p *Presence) OnlineAgents(ctx context.Context) (map[string]string, error) {
	result, err := p.rdb.HGetAll(ctx, onlineAgentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online agents for key %s: %w", onlineAgentsKey, err)
	}
	return result, nil
}
