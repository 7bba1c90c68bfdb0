package chatpipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-study/internal/observability"
)

// Store persists sessions, messages, and blocks in one SQLite database,
// mirroring vfs.Store's one-pooled-connection-per-database policy
// (internal/vfs/vfs.go) so that BEGIN IMMEDIATE transactions serialize
// writes without needing app-level locking.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// Open opens (creating if absent) the chat database at path.
func Open(path string, logger *observability.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatpipeline: set pragmas: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatpipeline: migrate: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	}
	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle, mirroring vfs.Store.DB: the retry and
// edit-and-resend paths delete messages and decrement VFS ref-counts under
// one outer transaction boundary.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.PersistStatus == "" {
		sess.PersistStatus = StatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_v2_sessions (id, mode, title, persist_status, workspace_id, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		sess.ID, sess.Mode, sess.Title, sess.PersistStatus, sess.WorkspaceID, sess.GroupID,
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("chatpipeline: create session: %w", err)
	}
	if sess.WorkspaceID != "" {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO workspace_index (workspace_id, name, status, updated_at)
			VALUES (?, ?, 'active', ?)
			ON CONFLICT(workspace_id) DO UPDATE SET updated_at = excluded.updated_at`,
			sess.WorkspaceID, sess.Title, sess.UpdatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("chatpipeline: index workspace session: %w", err)
		}
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, title, persist_status, COALESCE(workspace_id, ''), COALESCE(group_id, ''), created_at, updated_at
		FROM chat_v2_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.Mode, &sess.Title, &sess.PersistStatus, &sess.WorkspaceID, &sess.GroupID, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatpipeline: scan session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// SetTitle sets a session's title, used by the grading pipeline to name a
// session after its first graded round.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_v2_sessions SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("chatpipeline: set session title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// touchSession updates a session's updated_at, used by stage 8 finalisation.
func (s *Store) touchSession(ctx context.Context, q queryExecer, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE chat_v2_sessions SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("chatpipeline: touch session: %w", err)
	}
	return nil
}

type queryExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateMessage inserts a new message row with no blocks yet.
func (s *Store) CreateMessage(ctx context.Context, msg *Message) error {
	return s.createMessageTx(ctx, s.db, msg)
}

func (s *Store) createMessageTx(ctx context.Context, q queryExecer, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	blockIDs, err := json.Marshal(msg.BlockIDs)
	if err != nil {
		return fmt.Errorf("chatpipeline: marshal block ids: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO chat_v2_messages (id, session_id, role, block_ids_json, timestamp, meta_json, attachments_snapshot, context_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, string(blockIDs), msg.Timestamp.UnixMilli(),
		msg.MetaJSON, msg.AttachmentsSnapshot, msg.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("chatpipeline: create message: %w", err)
	}
	return nil
}

// AppendBlockID appends a block id to a message's ordered BlockIDs, keeping
// I-M1 (block_ids lists exactly the children, in emission order).
func (s *Store) AppendBlockID(ctx context.Context, messageID, blockID string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	msg.BlockIDs = append(msg.BlockIDs, blockID)
	blockIDs, err := json.Marshal(msg.BlockIDs)
	if err != nil {
		return fmt.Errorf("chatpipeline: marshal block ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE chat_v2_messages SET block_ids_json = ? WHERE id = ?`, string(blockIDs), messageID)
	if err != nil {
		return fmt.Errorf("chatpipeline: append block id: %w", err)
	}
	return nil
}

// GetMessage fetches a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, block_ids_json, timestamp, COALESCE(meta_json, ''), COALESCE(attachments_snapshot, ''), COALESCE(context_snapshot, '')
		FROM chat_v2_messages WHERE id = ?`, id)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (*Message, error) {
	var msg Message
	var blockIDsJSON string
	var ts int64
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &blockIDsJSON, &ts, &msg.MetaJSON, &msg.AttachmentsSnapshot, &msg.ContextSnapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatpipeline: scan message: %w", err)
	}
	msg.Timestamp = time.UnixMilli(ts)
	if blockIDsJSON != "" {
		if err := json.Unmarshal([]byte(blockIDsJSON), &msg.BlockIDs); err != nil {
			return nil, fmt.Errorf("chatpipeline: unmarshal block ids: %w", err)
		}
	}
	return &msg, nil
}

// ListMessages returns every message in a session, in timestamp order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, block_ids_json, timestamp, COALESCE(meta_json, ''), COALESCE(attachments_snapshot, ''), COALESCE(context_snapshot, '')
		FROM chat_v2_messages WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		var blockIDsJSON string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &blockIDsJSON, &ts, &msg.MetaJSON, &msg.AttachmentsSnapshot, &msg.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("chatpipeline: scan message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(ts)
		if blockIDsJSON != "" {
			if err := json.Unmarshal([]byte(blockIDsJSON), &msg.BlockIDs); err != nil {
				return nil, fmt.Errorf("chatpipeline: unmarshal block ids: %w", err)
			}
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// AddBlock inserts a new block (initial status: pending).
func (s *Store) AddBlock(ctx context.Context, block *Block) error {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if block.Status == "" {
		block.Status = BlockPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_v2_blocks (id, message_id, block_type, status, block_index, content, citations_json, tool_name, tool_input_json, tool_output_json, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ID, block.MessageID, block.BlockType, block.Status, block.BlockIndex, block.Content,
		block.CitationsJSON, block.ToolName, block.ToolInputJSON, block.ToolOutputJSON,
		nullableMillis(block.StartedAt), nullableMillis(block.EndedAt))
	if err != nil {
		return fmt.Errorf("chatpipeline: add block: %w", err)
	}
	return s.AppendBlockID(ctx, block.MessageID, block.ID)
}

func nullableMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// TransitionBlock moves a block to a new status, enforcing I-M2's monotonic
// pending -> running -> terminal rule.
func (s *Store) TransitionBlock(ctx context.Context, blockID string, to BlockStatus, content string) error {
	var from BlockStatus
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM chat_v2_blocks WHERE id = ?`, blockID).Scan(&from); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("chatpipeline: read block status: %w", err)
	}
	if !validTransition(from, to) {
		return fmt.Errorf("%w: block %s cannot move from %s to %s", ErrInvalidInput, blockID, from, to)
	}
	var endedAt any
	if terminalStatuses[to] {
		endedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_v2_blocks SET status = ?, content = content || ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`,
		to, content, endedAt, blockID)
	if err != nil {
		return fmt.Errorf("chatpipeline: transition block: %w", err)
	}
	return nil
}

// AppendBlockContent appends text to a running block's content, used by the
// streaming loop to accumulate chunks without a full read-modify-write.
func (s *Store) AppendBlockContent(ctx context.Context, blockID, chunk string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chat_v2_blocks SET content = COALESCE(content, '') || ? WHERE id = ?`, chunk, blockID)
	if err != nil {
		return fmt.Errorf("chatpipeline: append block content: %w", err)
	}
	return nil
}

// GetBlocks returns a message's blocks, in block_index order.
func (s *Store) GetBlocks(ctx context.Context, messageID string) ([]*Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, block_type, status, block_index, COALESCE(content, ''), COALESCE(citations_json, ''),
		       COALESCE(tool_name, ''), COALESCE(tool_input_json, ''), COALESCE(tool_output_json, ''),
		       COALESCE(started_at, 0), COALESCE(ended_at, 0)
		FROM chat_v2_blocks WHERE message_id = ? ORDER BY block_index ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: get blocks: %w", err)
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		var b Block
		var startedAt, endedAt int64
		if err := rows.Scan(&b.ID, &b.MessageID, &b.BlockType, &b.Status, &b.BlockIndex, &b.Content, &b.CitationsJSON,
			&b.ToolName, &b.ToolInputJSON, &b.ToolOutputJSON, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("chatpipeline: scan block: %w", err)
		}
		if startedAt > 0 {
			b.StartedAt = time.UnixMilli(startedAt)
		}
		if endedAt > 0 {
			b.EndedAt = time.UnixMilli(endedAt)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// MessageText concatenates a message's BlockContent blocks, in block_index
// order, giving the flattened text a Provider's CompletionMessage wants.
func (s *Store) MessageText(ctx context.Context, messageID string) (string, error) {
	blocks, err := s.GetBlocks(ctx, messageID)
	if err != nil {
		return "", err
	}
	var text string
	for _, b := range blocks {
		if b.BlockType == BlockContent {
			text += b.Content
		}
	}
	return text, nil
}

// DeleteMessagesFrom deletes target and every message after it in the
// session (by timestamp), cascading to their blocks, and returns the VFS
// resource ids referenced by the deleted messages' context snapshots so the
// caller can decrement ref-counts after commit (§4.2.4/§4.2.5's
// commit-then-decrement discipline).
func (s *Store) DeleteMessagesFrom(ctx context.Context, sessionID, targetMessageID string) (refIDs []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: begin delete: %w", err)
	}
	defer tx.Rollback()

	var targetTS int64
	if err := tx.QueryRowContext(ctx, `SELECT timestamp FROM chat_v2_messages WHERE id = ? AND session_id = ?`, targetMessageID, sessionID).Scan(&targetTS); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatpipeline: locate target message: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT context_snapshot FROM chat_v2_messages WHERE session_id = ? AND timestamp >= ?`, sessionID, targetTS)
	if err != nil {
		return nil, fmt.Errorf("chatpipeline: collect ref ids: %w", err)
	}
	var snapshots []string
	for rows.Next() {
		var snap sql.NullString
		if err := rows.Scan(&snap); err != nil {
			rows.Close()
			return nil, fmt.Errorf("chatpipeline: scan context snapshot: %w", err)
		}
		if snap.Valid && snap.String != "" {
			snapshots = append(snapshots, snap.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refIDs = extractResourceIDs(snapshots)

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_v2_messages WHERE session_id = ? AND timestamp >= ?`, sessionID, targetTS); err != nil {
		return nil, fmt.Errorf("chatpipeline: delete messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chatpipeline: commit delete: %w", err)
	}
	return refIDs, nil
}

// extractResourceIDs pulls every "resource_id" value out of a set of
// context_snapshot JSON documents, tolerating malformed/empty snapshots.
func extractResourceIDs(snapshots []string) []string {
	var ids []string
	for _, raw := range snapshots {
		var snap struct {
			ResourceIDs []string `json:"resource_ids"`
		}
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		ids = append(ids, snap.ResourceIDs...)
	}
	return ids
}

// UpdateMessageContextSnapshot replaces a message's attachments/context
// snapshot in place, used by edit_and_resend.
func (s *Store) UpdateMessageContextSnapshot(ctx context.Context, messageID, attachmentsSnapshot, contextSnapshot string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_v2_messages SET attachments_snapshot = ?, context_snapshot = ? WHERE id = ?`,
		attachmentsSnapshot, contextSnapshot, messageID)
	if err != nil {
		return fmt.Errorf("chatpipeline: update context snapshot: %w", err)
	}
	return nil
}
