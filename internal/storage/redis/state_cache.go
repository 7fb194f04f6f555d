package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// dpStateKey 网关DP快照缓存键
func dpStateKey(gatewayID string) string {
	return "hanqi:dpstate:" + gatewayID
}

// StateCache 网关DP最新值的Redis缓存（Hash：dpId -> JSON字符串化取值）。
// 数据库快照为准，缓存只加速读路径，过期自动回源。
type StateCache struct {
	client *Client
	ttl    time.Duration
}

// NewStateCache 创建DP状态缓存
func NewStateCache(client *Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StateCache{client: client, ttl: ttl}
}

// SetDPValues 批量写入网关DP取值并续期
func (c *StateCache) SetDPValues(ctx context.Context, gatewayID string, values map[int]string) error {
	if len(values) == 0 {
		return nil
	}
	key := dpStateKey(gatewayID)
	fields := make(map[string]interface{}, len(values))
	for id, v := range values {
		fields[strconv.Itoa(id)] = v
	}
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache dp values: %w", err)
	}
	return nil
}

// GetDPValues 读取网关全部DP缓存
func (c *StateCache) GetDPValues(ctx context.Context, gatewayID string) (map[int]string, error) {
	raw, err := c.client.HGetAll(ctx, dpStateKey(gatewayID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dp cache: %w", err)
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		id, convErr := strconv.Atoi(k)
		if convErr != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}
