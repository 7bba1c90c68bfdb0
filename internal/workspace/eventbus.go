package workspace

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

// newMessageEvent is the payload carried by both bus implementations: a
// lightweight pointer telling a recipient a message is waiting, never the
// message body itself (the recipient reads it from its own inbox).
type newMessageEvent struct {
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
	MessageID   string `json:"message_id"`
}

// channelBus is the single-process default: Publish is a best-effort
// fan-out over per-session channels, dropped if nobody is listening. It
// exists so a UI can subscribe to "new message for me" without polling the
// inbox; losing a notification is harmless since DrainInbox is the source
// of truth.
type channelBus struct {
	subs chan newMessageEvent
}

func newChannelBus() *channelBus {
	return &channelBus{subs: make(chan newMessageEvent, 256)}
}

func (b *channelBus) Publish(_ context.Context, workspaceID, sessionID, messageID string) {
	select {
	case b.subs <- newMessageEvent{WorkspaceID: workspaceID, SessionID: sessionID, MessageID: messageID}:
	default: // bus is a notification hint, not a delivery guarantee; drop on backpressure
	}
}

// Events exposes the channel for a UI layer to subscribe to.
func (b *channelBus) Events() <-chan newMessageEvent {
	return b.subs
}

// redisBus backs the event surface with Redis pub/sub so multiple process
// instances routing the same workspace (e.g. behind a load balancer) all
// observe new-message notifications, not just the instance that happened to
// handle the Send call. Grounded on manifold's RedisGenerationCache
// publish/subscribe shape.
type redisBus struct {
	client redis.UniversalClient
	logger *observability.Logger
}

func newRedisBus(addr string, logger *observability.Logger) (*redisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &redisBus{client: client, logger: logger}, nil
}

func (b *redisBus) channel(workspaceID string) string {
	return "workspace:" + workspaceID + ":messages"
}

func (b *redisBus) Publish(ctx context.Context, workspaceID, sessionID, messageID string) {
	data, err := json.Marshal(newMessageEvent{WorkspaceID: workspaceID, SessionID: sessionID, MessageID: messageID})
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, b.channel(workspaceID), data).Err(); err != nil && b.logger != nil {
		b.logger.Warn(ctx, "workspace event bus publish failed", "error", err, "workspace_id", workspaceID)
	}
}

// Subscribe returns a channel of new-message events for workspaceID and a
// cancel func to stop the subscription.
func (b *redisBus) Subscribe(ctx context.Context, workspaceID string) (<-chan newMessageEvent, func()) {
	ch := make(chan newMessageEvent, 16)
	sub := b.client.Subscribe(ctx, b.channel(workspaceID))
	go func() {
		for msg := range sub.Channel() {
			var ev newMessageEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}()
	cancel := func() {
		_ = sub.Close()
		close(ch)
	}
	return ch, cancel
}

func (b *redisBus) Close() error {
	return b.client.Close()
}
