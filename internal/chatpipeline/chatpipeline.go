// Package chatpipeline implements the chat session/message/block model and
// the send/cancel/retry/edit pipeline that streams an LLM turn through
// retrieval, prompt assembly, and a bounded tool loop. The state-machine
// shape (init -> stream -> execute tools -> continue -> complete) follows
// the teacher's AgenticLoop (internal/agent/loop.go), re-targeted at
// SPEC_FULL's session/message/block persistence model instead of the
// teacher's channel-agnostic sessions.Store.
package chatpipeline

import "time"

// SessionMode identifies what a session is for.
type SessionMode string

const (
	ModeAnalysis SessionMode = "analysis"
	ModeAgent    SessionMode = "agent"
	ModeChat     SessionMode = "chat"
)

// PersistStatus is a session's lifecycle state.
type PersistStatus string

const (
	StatusActive   PersistStatus = "active"
	StatusArchived PersistStatus = "archived"
)

// Session is one chat conversation.
type Session struct {
	ID            string
	Mode          SessionMode
	Title         string
	PersistStatus PersistStatus
	WorkspaceID   string // empty when not workspace-hosted
	GroupID       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn in a session. BlockIDs lists its blocks in emission
// order (I-M1); ContextSnapshot is an immutable record of the VFS references
// in effect at send time, used to rebuild the prompt on retry/edit.
type Message struct {
	ID                 string
	SessionID          string
	Role               Role
	BlockIDs           []string
	Timestamp          time.Time
	MetaJSON           string
	AttachmentsSnapshot string
	ContextSnapshot    string
}

// BlockType identifies the kind of content a block carries.
type BlockType string

const (
	BlockContent   BlockType = "content"
	BlockThinking  BlockType = "thinking"
	BlockRAG       BlockType = "rag"
	BlockMemory    BlockType = "memory"
	BlockWebSearch BlockType = "web_search"
	BlockGraph     BlockType = "graph"
	BlockMCPTool   BlockType = "mcp_tool"
	BlockToolResult BlockType = "tool_result"
	BlockError     BlockType = "error"
)

// BlockStatus transitions monotonically: pending -> running -> terminal
// (success|failed|cancelled) per I-M2.
type BlockStatus string

const (
	BlockPending   BlockStatus = "pending"
	BlockRunning   BlockStatus = "running"
	BlockSuccess   BlockStatus = "success"
	BlockFailed    BlockStatus = "failed"
	BlockCancelled BlockStatus = "cancelled"
)

// terminalStatuses are the BlockStatus values I-M2 treats as final; a block
// in one of these never transitions again.
var terminalStatuses = map[BlockStatus]bool{
	BlockSuccess:   true,
	BlockFailed:    true,
	BlockCancelled: true,
}

// validTransition reports whether a block may move from 'from' to 'to'
// under I-M2's monotonic pending -> running -> terminal rule.
func validTransition(from, to BlockStatus) bool {
	if terminalStatuses[from] {
		return false
	}
	switch from {
	case BlockPending:
		return to == BlockRunning || terminalStatuses[to]
	case BlockRunning:
		return terminalStatuses[to]
	default:
		return false
	}
}

// Block is one piece of structured content under a message.
type Block struct {
	ID             string
	MessageID      string
	BlockType      BlockType
	Status         BlockStatus
	BlockIndex     int
	Content        string
	CitationsJSON  string
	ToolName       string
	ToolInputJSON  string
	ToolOutputJSON string
	StartedAt      time.Time
	EndedAt        time.Time
}
