package workspace

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// OverflowEvent reports that pushing a message into one or more recipients'
// inboxes failed because they were already at capacity. It carries enough
// detail for the UI to show which recipients missed the message, per the
// "overflow events include per-target dropped ids" requirement — the
// message itself is never silently dropped, its failure to route is always
// surfaced.
type OverflowEvent struct {
	WorkspaceID string
	MessageID   string
	DroppedFor  []string
}

// MessageRouter persists messages and fans them into recipients' in-memory
// inboxes: unicast when a target is given, broadcast to every non-failed
// agent in the workspace otherwise.
type MessageRouter struct {
	db    *sql.DB
	inbox *InboxManager
	bus   EventBus
}

func newMessageRouter(db *sql.DB, inbox *InboxManager, bus EventBus) *MessageRouter {
	return &MessageRouter{db: db, inbox: inbox, bus: bus}
}

// Send persists msg, then routes it to its recipients. A non-nil targetID
// means unicast; otherwise every agent session in the workspace (other than
// the sender) receives it. Returns the persisted message and, if any
// recipient's inbox was full, an overflow event describing which.
func (r *MessageRouter) Send(ctx context.Context, workspaceID, senderID string, targetID *string, typ MessageType, content string) (*Message, *OverflowEvent, error) {
	if senderID == "" {
		return nil, nil, fmt.Errorf("%w: sender id required", ErrInvalidInput)
	}
	msg := &Message{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		SenderID:    senderID,
		Type:        typ,
		Content:     content,
		CreatedAt:   nowMs(),
	}
	if targetID != nil && *targetID != "" {
		msg.TargetID = sql.NullString{String: *targetID, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, workspace_id, sender_id, target_id, type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.WorkspaceID, msg.SenderID, msg.TargetID, string(msg.Type), msg.Content, msg.CreatedAt); err != nil {
		return nil, nil, fmt.Errorf("workspace: persist message: %w", err)
	}

	recipients, err := r.recipientsFor(ctx, workspaceID, senderID, msg.TargetID)
	if err != nil {
		return msg, nil, err
	}

	var dropped []string
	for _, sessionID := range recipients {
		if err := r.inbox.push(ctx, sessionID, msg.ID, 1); err != nil {
			dropped = append(dropped, sessionID)
			continue
		}
		if r.bus != nil {
			r.bus.Publish(ctx, workspaceID, sessionID, msg.ID)
		}
	}

	var overflow *OverflowEvent
	if len(dropped) > 0 {
		overflow = &OverflowEvent{WorkspaceID: workspaceID, MessageID: msg.ID, DroppedFor: dropped}
	}
	return msg, overflow, nil
}

func (r *MessageRouter) recipientsFor(ctx context.Context, workspaceID, senderID string, target sql.NullString) ([]string, error) {
	if target.Valid {
		return []string{target.String}, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT session_id FROM agents WHERE workspace_id = ? AND session_id != ? AND status != 'failed'`, workspaceID, senderID)
	if err != nil {
		return nil, fmt.Errorf("workspace: list broadcast recipients: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("workspace: scan recipient: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DrainInbox atomically pops up to limit undelivered messages for sessionID
// and marks them processed, returning them with content inlined.
func (r *MessageRouter) DrainInbox(ctx context.Context, sessionID string, limit int) ([]*InboxEntry, error) {
	ids, err := r.inbox.drain(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*InboxEntry, 0, len(ids))
	for _, id := range ids {
		row := r.db.QueryRowContext(ctx, `SELECT id, workspace_id, sender_id, target_id, type, content, created_at FROM messages WHERE id = ?`, id)
		var m Message
		var typ string
		if err := row.Scan(&m.ID, &m.WorkspaceID, &m.SenderID, &m.TargetID, &typ, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("workspace: read drained message: %w", err)
		}
		m.Type = MessageType(typ)
		out = append(out, &InboxEntry{WorkspaceID: m.WorkspaceID, SessionID: sessionID, MessageID: m.ID, Message: &m})
	}
	return out, nil
}

// Requeue re-adds messageID to sessionID's inbox at priority 0, for retry.
func (r *MessageRouter) Requeue(ctx context.Context, sessionID, messageID string) error {
	return r.inbox.requeue(ctx, sessionID, messageID)
}

// EventBus publishes a lightweight "new message" notification per recipient
// session; the in-process bus is sufficient for a single instance, the
// Redis-backed bus lets multiple processes share routing (SPEC_FULL's
// opt-in scale-out path).
type EventBus interface {
	Publish(ctx context.Context, workspaceID, sessionID, messageID string)
}
