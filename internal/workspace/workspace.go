// Package workspace implements the per-session multi-agent collaboration
// substrate: a pool of agents (one coordinator plus zero or more workers)
// sharing an inbox/message router, shared context, versioned documents, and
// sleep/wake signalling. Each workspace owns a dedicated SQLite database so
// it can be backed up, migrated, and deleted independently of every other
// workspace.
package workspace

import (
	"database/sql"
	"time"
)

// Status is a workspace's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Workspace is the top-level record describing one collaboration session.
type Workspace struct {
	ID               string
	CreatorSessionID string
	Status           Status
	Name             string
	CreatedAt        int64
	UpdatedAt        int64
}

// AgentRole distinguishes the workspace's single coordinator from its
// workers.
type AgentRole string

const (
	RoleCoordinator AgentRole = "coordinator"
	RoleWorker      AgentRole = "worker"
)

// AgentStatus tracks an agent's progress through its assigned work.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// Agent is one participant in a workspace: a chat session bound to a role.
type Agent struct {
	WorkspaceID string
	SessionID   string
	Role        AgentRole
	Status      AgentStatus
	SkillID     sql.NullString
	Metadata    sql.NullString
	CreatedAt   int64
	UpdatedAt   int64
}

// MessageType distinguishes structured inter-agent signals from free-text
// chatter; the router treats every type identically, the distinction is for
// consumers.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageTaskAssign  MessageType = "task_assign"
	MessageWorkerReady MessageType = "worker_ready"
	MessageStatus      MessageType = "status"
)

// Message is a single inter-agent communication, persisted before it is
// routed into any recipient's in-memory inbox.
type Message struct {
	ID          string
	WorkspaceID string
	SenderID    string
	TargetID    sql.NullString // empty/invalid means broadcast
	Type        MessageType
	Content     string
	CreatedAt   int64
}

// InboxEntry is one (session, message) assignment produced by the router.
type InboxEntry struct {
	ID          string
	WorkspaceID string
	SessionID   string
	MessageID   string
	Priority    int
	Processed   bool
	CreatedAt   int64

	// Message is populated by DrainInbox so callers don't need a second
	// round-trip to read the referenced message's content.
	Message *Message
}

// DocumentKind enumerates the versioned artifact categories a workspace can
// hold.
type DocumentKind string

const (
	DocPlan     DocumentKind = "plan"
	DocResearch DocumentKind = "research"
	DocArtifact DocumentKind = "artifact"
	DocNotes    DocumentKind = "notes"
)

// Document is one versioned shared document; SaveDocument always inserts a
// new version rather than overwriting, so history is never lost.
type Document struct {
	ID          string
	WorkspaceID string
	Kind        DocumentKind
	Title       string
	Content     string
	Version     int
	CreatedAt   int64
}

// TaskStatus tracks a subagent task's lifecycle, mirroring the teacher's
// jobs.Status enum (queued/running/succeeded/failed) adapted to the
// workspace's own queued/running/completed/failed vocabulary.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// SubagentTask is a unit of work assigned to a worker agent; it survives a
// process restart so an in-flight worker can resume or be reassigned.
type SubagentTask struct {
	ID          string
	WorkspaceID string
	SessionID   string
	Status      TaskStatus
	Payload     string
	CreatedAt   int64
	UpdatedAt   int64
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
