package redis

import (
	"context"

	"go.uber.org/zap"
)

// credentialUpdatedChannel 凭据更新事件通道，消息体为identity
const credentialUpdatedChannel = "hanqi:events:credential.updated"

// EventBus 基于Redis Pub/Sub的进程间事件总线。
// 管理面（本进程或其他实例）发布凭据变更，接入面订阅后触发快照重载。
type EventBus struct {
	client *Client
	logger *zap.Logger
}

// NewEventBus 创建事件总线
func NewEventBus(client *Client, logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{client: client, logger: logger}
}

// PublishCredentialUpdated 发布凭据更新事件
func (b *EventBus) PublishCredentialUpdated(ctx context.Context, identity string) error {
	return b.client.Publish(ctx, credentialUpdatedChannel, identity).Err()
}

// SubscribeCredentialUpdated 订阅凭据更新事件并逐条回调，直到ctx取消。
// 订阅中断由go-redis自动重连，回调内的错误不中断订阅循环。
func (b *EventBus) SubscribeCredentialUpdated(ctx context.Context, fn func(identity string)) {
	sub := b.client.Subscribe(ctx, credentialUpdatedChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.logger.Debug("credential.updated event received",
				zap.String("identity", msg.Payload))
			fn(msg.Payload)
		}
	}
}
