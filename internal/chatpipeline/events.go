package chatpipeline

import (
	"context"
	"sync"
)

// ChannelEvent is one message published on a named channel. Name follows
// the UI's channel surface directly: "chat_v2_session_<id>" for
// session-level lifecycle, "chat_v2_event_<id>" for block-level chunks,
// "chat_v2_request_audit" for tool/retrieval audit records.
type ChannelEvent struct {
	Channel string
	Payload any
}

// SessionEventKind identifies a chat_v2_session_<id> lifecycle event.
type SessionEventKind string

const (
	SessionStreamStart     SessionEventKind = "stream_start"
	SessionStreamComplete  SessionEventKind = "stream_complete"
	SessionStreamError     SessionEventKind = "stream_error"
	SessionStreamCancelled SessionEventKind = "stream_cancelled"
)

// SessionEvent is the payload published on chat_v2_session_<id>.
type SessionEvent struct {
	Kind      SessionEventKind `json:"kind"`
	SessionID string           `json:"session_id"`
	MessageID string           `json:"message_id"`
	Error     string           `json:"error,omitempty"`
}

// BlockEventKind identifies a chat_v2_event_<id> block-level event.
type BlockEventKind string

const (
	BlockEventStart BlockEventKind = "start"
	BlockEventChunk BlockEventKind = "chunk"
	BlockEventEnd   BlockEventKind = "end"
	BlockEventError BlockEventKind = "error"
)

// BlockEvent is the payload published on chat_v2_event_<id>.
type BlockEvent struct {
	Kind      BlockEventKind `json:"kind"`
	MessageID string         `json:"message_id"`
	BlockID   string         `json:"block_id"`
	BlockType BlockType      `json:"block_type"`
	Delta     string         `json:"delta,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RequestAuditEvent is published on chat_v2_request_audit for every tool or
// retrieval call the pipeline makes, independent of session, so a
// diagnostics surface can observe them without subscribing per-session.
type RequestAuditEvent struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"` // "tool_call", "retrieval"
	Name      string `json:"name"`
	Ok        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Publisher fans ChannelEvents out to subscribers. The in-process bus below
// is the default; a Redis-backed implementation (as internal/workspace's
// redisBus does for inbox notifications) is a drop-in replacement for
// multi-process deployments.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any)
}

// Bus is the single-process default publisher: best-effort fan-out over a
// bounded channel per topic, dropped on backpressure since these are live
// UI notifications, not a durable log (mirrors internal/workspace's
// channelBus).
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan ChannelEvent
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan ChannelEvent)}
}

// Publish delivers payload to channel's subscriber, if any, dropping it
// silently if the subscriber's buffer is full.
func (b *Bus) Publish(_ context.Context, channel string, payload any) {
	b.mu.Lock()
	ch, ok := b.subs[channel]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ChannelEvent{Channel: channel, Payload: payload}:
	default:
	}
}

// Subscribe returns the channel for a topic, creating it on first use.
func (b *Bus) Subscribe(channel string) <-chan ChannelEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[channel]
	if !ok {
		ch = make(chan ChannelEvent, 256)
		b.subs[channel] = ch
	}
	return ch
}

// Unsubscribe removes and closes a topic's channel.
func (b *Bus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[channel]; ok {
		delete(b.subs, channel)
		close(ch)
	}
}

func sessionChannel(sessionID string) string { return "chat_v2_session_" + sessionID }
func blockChannel(messageID string) string   { return "chat_v2_event_" + messageID }

const requestAuditChannel = "chat_v2_request_audit"
