package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InboxManager holds each session's bounded in-memory FIFO queue of
// undelivered message ids. Entries are also persisted to inbox_entries so a
// restart can rebuild the in-memory state by replaying unprocessed rows.
type InboxManager struct {
	mu       sync.Mutex
	db       *sql.DB
	capacity int
	queues   map[string][]string // sessionID -> ordered message ids awaiting drain
}

func newInboxManager(db *sql.DB, capacity int) *InboxManager {
	if capacity <= 0 {
		capacity = 256
	}
	return &InboxManager{db: db, capacity: capacity, queues: make(map[string][]string)}
}

// restore repopulates in-memory queues from unprocessed inbox_entries rows,
// ordered the same way drainInbox reads them: priority desc, then FIFO.
func (im *InboxManager) restore(ctx context.Context) error {
	rows, err := im.db.QueryContext(ctx, `
		SELECT session_id, message_id FROM inbox_entries
		WHERE processed = 0
		ORDER BY session_id, priority DESC, created_at ASC`)
	if err != nil {
		return fmt.Errorf("workspace: restore inbox: %w", err)
	}
	defer rows.Close()

	im.mu.Lock()
	defer im.mu.Unlock()
	for rows.Next() {
		var sessionID, messageID string
		if err := rows.Scan(&sessionID, &messageID); err != nil {
			return fmt.Errorf("workspace: scan inbox row: %w", err)
		}
		im.queues[sessionID] = append(im.queues[sessionID], messageID)
	}
	return rows.Err()
}

// push persists an inbox_entries row and appends to the session's in-memory
// queue. If the queue is already at capacity, the row is rolled back and
// ErrInboxOverflow is returned rather than silently dropping the oldest
// entry — an overflowing recipient must be handled by the caller (the
// router surfaces an overflow event), never silently discarded.
func (im *InboxManager) push(ctx context.Context, sessionID, messageID string, priority int) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if len(im.queues[sessionID]) >= im.capacity {
		return ErrInboxOverflow
	}

	id := uuid.New().String()
	if _, err := im.db.ExecContext(ctx, `
		INSERT INTO inbox_entries (id, workspace_id, session_id, message_id, priority, processed, created_at)
		SELECT ?, workspace_id, ?, ?, ?, 0, ? FROM messages WHERE id = ?`,
		id, sessionID, messageID, priority, nowMs(), messageID); err != nil {
		return fmt.Errorf("workspace: push inbox entry: %w", err)
	}
	im.queues[sessionID] = append(im.queues[sessionID], messageID)
	return nil
}

// drain pops up to limit message ids from sessionID's queue and marks their
// inbox_entries rows processed in one statement.
func (im *InboxManager) drain(ctx context.Context, sessionID string, limit int) ([]string, error) {
	im.mu.Lock()
	queue := im.queues[sessionID]
	if limit <= 0 || limit > len(queue) {
		limit = len(queue)
	}
	taken := append([]string(nil), queue[:limit]...)
	im.queues[sessionID] = queue[limit:]
	im.mu.Unlock()

	if len(taken) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := []any{sessionID}
	for i, id := range taken {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE inbox_entries SET processed = 1 WHERE session_id = ? AND message_id IN (%s) AND processed = 0`, placeholders)
	if _, err := im.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("workspace: mark inbox drained: %w", err)
	}
	return taken, nil
}

// requeue re-adds a message to the front of sessionID's queue at priority 0,
// for re_enqueue_message's retry semantics. Subject to the same overflow
// check as push.
func (im *InboxManager) requeue(ctx context.Context, sessionID, messageID string) error {
	return im.push(ctx, sessionID, messageID, 0)
}

// depth reports the current in-memory queue length, for diagnostics.
func (im *InboxManager) depth(sessionID string) int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.queues[sessionID])
}
