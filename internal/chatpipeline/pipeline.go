package chatpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-study/internal/observability"
	"github.com/haasonsaas/nexus-study/internal/vfs"
)

// SendRequest is send_message's input (spec.md §4.2).
type SendRequest struct {
	SessionID      string
	Content        string
	AttachmentRefs []string // VFS resource ids referenced by this turn
	Model          string
	// skipUserMessageSave replaces the first stage for retry/edit, which
	// already have a user message in place (§4.2.4/§4.2.5).
	skipUserMessageSave bool
	// assistantMessageID lets retry/edit replace the existing assistant
	// message in place instead of appending a new one.
	assistantMessageID string
	userMessageID       string
}

// RetryResult is retry_message's output.
type RetryResult struct {
	AssistantMessageID string
}

// EditResult is edit_and_resend's output.
type EditResult struct {
	AssistantMessageID string
}

// Pipeline ties the session/message/block store, the per-session
// concurrency gate, the event bus, provider/tool/retrieval backends, and
// VFS ref-counting together into send_message/cancel_stream/retry_message/
// edit_and_resend (§4.2), following the teacher's AgenticLoop staging
// (internal/agent/loop.go) re-targeted at this package's persistence model.
type Pipeline struct {
	Store        *Store
	Registry     *Registry
	Bus          *Bus
	Providers    *ProviderRegistry
	Tools        []ToolSpec
	Retrievers   []Retriever
	ToolLoop     *ToolLoop
	Resources    *vfs.ResourceStore
	Logger       *observability.Logger
	Summarize    func(ctx context.Context, sessionID string)
	SystemPrompt func(ctx context.Context, sess *Session) (string, error)
}

// SendMessage validates req, persists the user message and an empty
// assistant message under the session's concurrency gate, then spawns the
// streaming pipeline asynchronously and returns the assistant message id
// immediately (§4.2's async contract).
func (p *Pipeline) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	if req.SessionID == "" {
		return "", fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	if !req.skipUserMessageSave && req.Content == "" {
		return "", fmt.Errorf("%w: content required", ErrInvalidInput)
	}

	streamCtx, unregister, err := p.Registry.TryRegister(context.Background(), req.SessionID)
	if err != nil {
		return "", err
	}

	if req.assistantMessageID == "" {
		req.assistantMessageID = uuid.NewString()
	}
	assistantMsg := &Message{
		ID:        req.assistantMessageID,
		SessionID: req.SessionID,
		Role:      RoleAssistant,
	}

	if !req.skipUserMessageSave {
		userMsg := &Message{
			ID:                  uuid.NewString(),
			SessionID:           req.SessionID,
			Role:                RoleUser,
			ContextSnapshot:     contextSnapshotJSON(req.AttachmentRefs),
			AttachmentsSnapshot: contextSnapshotJSON(req.AttachmentRefs),
		}
		req.userMessageID = userMsg.ID
		if err := p.Store.CreateMessage(ctx, userMsg); err != nil {
			unregister()
			return "", err
		}
		userBlock := &Block{MessageID: userMsg.ID, BlockType: BlockContent, Status: BlockSuccess, Content: req.Content}
		if err := p.Store.AddBlock(ctx, userBlock); err != nil {
			unregister()
			return "", err
		}
	}
	if err := p.Store.CreateMessage(ctx, assistantMsg); err != nil {
		unregister()
		return "", err
	}

	go p.run(streamCtx, unregister, req)
	return assistantMsg.ID, nil
}

// CancelStream signals the running stream for sessionID to stop
// cooperatively (§4.2.3); it does not block for the stream to exit.
func (p *Pipeline) CancelStream(sessionID string) {
	p.Registry.Cancel(sessionID)
}

// RetryMessage deletes assistantMessageID and every message after it in one
// transaction, decrements the VFS refs they held, and re-spawns the
// pipeline with the same assistant message id so the UI sees a replacement,
// not an append (§4.2.4). Registration happens before the delete so a
// concurrent retry/edit/send on the same session is rejected instead of
// racing the delete (TOCTOU per §4.2.1).
func (p *Pipeline) RetryMessage(ctx context.Context, sessionID, assistantMessageID string, opts SendRequest) (RetryResult, error) {
	streamCtx, unregister, err := p.Registry.TryRegister(context.Background(), sessionID)
	if err != nil {
		return RetryResult{}, err
	}

	refIDs, err := p.Store.DeleteMessagesFrom(ctx, sessionID, assistantMessageID)
	if err != nil {
		unregister()
		return RetryResult{}, err
	}
	p.decrementRefsBestEffort(ctx, refIDs)

	req := opts
	req.SessionID = sessionID
	req.assistantMessageID = assistantMessageID
	req.skipUserMessageSave = true

	assistantMsg := &Message{ID: assistantMessageID, SessionID: sessionID, Role: RoleAssistant}
	if err := p.Store.CreateMessage(ctx, assistantMsg); err != nil {
		unregister()
		return RetryResult{}, err
	}

	go p.run(streamCtx, unregister, req)
	return RetryResult{AssistantMessageID: assistantMessageID}, nil
}

// EditAndResend updates userMessageID's content in place, deletes every
// message strictly after it, and spawns a fresh assistant message
// (§4.2.5). Like RetryMessage, the delete happens only after the
// concurrency gate is acquired.
func (p *Pipeline) EditAndResend(ctx context.Context, sessionID, userMessageID, newContent string, newRefs []string, opts SendRequest) (EditResult, error) {
	streamCtx, unregister, err := p.Registry.TryRegister(context.Background(), sessionID)
	if err != nil {
		return EditResult{}, err
	}

	if _, err := p.Store.GetMessage(ctx, userMessageID); err != nil {
		unregister()
		return EditResult{}, err
	}

	// DeleteMessagesFrom removes the target message itself along with
	// everything after it (its blocks cascade); rebuild it fresh below with
	// the edited content rather than updating in place, since the delete
	// would immediately cascade away any in-place edit anyway.
	refIDs, err := p.Store.DeleteMessagesFrom(ctx, sessionID, userMessageID)
	if err != nil {
		unregister()
		return EditResult{}, err
	}
	snapshot := contextSnapshotJSON(newRefs)
	editedMsg := &Message{ID: userMessageID, SessionID: sessionID, Role: RoleUser, ContextSnapshot: snapshot, AttachmentsSnapshot: snapshot}
	if err := p.Store.CreateMessage(ctx, editedMsg); err != nil {
		unregister()
		return EditResult{}, err
	}
	contentBlock := &Block{MessageID: userMessageID, BlockType: BlockContent, Status: BlockSuccess, Content: newContent}
	if err := p.Store.AddBlock(ctx, contentBlock); err != nil {
		unregister()
		return EditResult{}, err
	}
	p.decrementRefsBestEffort(ctx, refIDs)

	req := opts
	req.SessionID = sessionID
	req.skipUserMessageSave = true
	req.userMessageID = userMessageID
	req.assistantMessageID = uuid.NewString()

	assistantMsg := &Message{ID: req.assistantMessageID, SessionID: sessionID, Role: RoleAssistant}
	if err := p.Store.CreateMessage(ctx, assistantMsg); err != nil {
		unregister()
		return EditResult{}, err
	}

	go p.run(streamCtx, unregister, req)
	return EditResult{AssistantMessageID: req.assistantMessageID}, nil
}

func (p *Pipeline) decrementRefsBestEffort(ctx context.Context, ids []string) {
	if len(ids) == 0 || p.Resources == nil {
		return
	}
	for id, err := range p.Resources.DecrementRefs(ctx, ids) {
		if err != nil {
			p.Logger.Warn(ctx, "chatpipeline: failed to decrement vfs ref", "resource_id", id, "error", err)
		}
	}
}

func contextSnapshotJSON(resourceIDs []string) string {
	b, err := json.Marshal(struct {
		ResourceIDs []string `json:"resource_ids"`
	}{ResourceIDs: resourceIDs})
	if err != nil {
		return "{}"
	}
	return string(b)
}

// run drives the eight pipeline stages for one assistant message and always
// unregisters the session's stream handle on exit, however it ends
// (success, error, cancel, or panic).
func (p *Pipeline) run(ctx context.Context, unregister func(), req SendRequest) {
	defer unregister()
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error(ctx, "chatpipeline: stream panicked", "session_id", req.SessionID, "panic", r)
			p.Bus.Publish(ctx, sessionChannel(req.SessionID), SessionEvent{
				Kind: SessionStreamError, SessionID: req.SessionID, MessageID: req.assistantMessageID,
				Error: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	start := time.Now()
	p.Bus.Publish(ctx, sessionChannel(req.SessionID), SessionEvent{
		Kind: SessionStreamStart, SessionID: req.SessionID, MessageID: req.assistantMessageID,
	})

	sess, err := p.Store.GetSession(ctx, req.SessionID)
	if err != nil {
		p.fail(ctx, req, err)
		return
	}

	// stage 4: parallel retrieval fan-out, degrading per-retriever.
	citationBlocks := p.runRetrieval(ctx, req)

	// stage 5: prompt assembly.
	history, err := p.Store.ListMessages(ctx, req.SessionID)
	if err != nil {
		p.fail(ctx, req, err)
		return
	}
	systemPrompt := ""
	if p.SystemPrompt != nil {
		systemPrompt, err = p.SystemPrompt(ctx, sess)
		if err != nil {
			p.fail(ctx, req, err)
			return
		}
	}
	messages, err := p.assemblePrompt(ctx, systemPrompt, history, citationBlocks)
	if err != nil {
		p.fail(ctx, req, err)
		return
	}

	model := req.Model
	if model == "" {
		model = string(sess.Mode)
	}
	provider, err := p.Providers.Resolve(model)
	if err != nil {
		p.fail(ctx, req, err)
		return
	}

	// stage 6 + 7: stream, running the bounded tool loop between rounds.
	outcome := p.stream(ctx, req, provider, model, messages, systemPrompt)

	// stage 8: finalisation.
	p.finalize(ctx, req, outcome, time.Since(start))
}

func (p *Pipeline) fail(ctx context.Context, req SendRequest, err error) {
	p.Logger.Error(ctx, "chatpipeline: stream failed", "session_id", req.SessionID, "error", err)
	p.Bus.Publish(ctx, sessionChannel(req.SessionID), SessionEvent{
		Kind: SessionStreamError, SessionID: req.SessionID, MessageID: req.assistantMessageID, Error: err.Error(),
	})
}

func (p *Pipeline) runRetrieval(ctx context.Context, req SendRequest) []*Block {
	if len(p.Retrievers) == 0 {
		return nil
	}
	results := FanOut(ctx, p.Retrievers, RetrievalQuery{SessionID: req.SessionID, Text: req.Content, TopK: 8})
	blocks := make([]*Block, 0, len(results))
	for _, r := range results {
		block := &Block{
			MessageID: req.assistantMessageID,
			BlockType: r.BlockType,
		}
		if r.Err != nil {
			block.Status = BlockFailed
			block.Content = r.Err.Error()
			p.Bus.Publish(ctx, requestAuditChannel, RequestAuditEvent{
				SessionID: req.SessionID, MessageID: req.assistantMessageID,
				Kind: "retrieval", Name: string(r.BlockType), Ok: false, Error: r.Err.Error(),
			})
		} else {
			block.Status = BlockSuccess
			block.CitationsJSON = CitationsJSON(r.Citations)
			p.Bus.Publish(ctx, requestAuditChannel, RequestAuditEvent{
				SessionID: req.SessionID, MessageID: req.assistantMessageID,
				Kind: "retrieval", Name: string(r.BlockType), Ok: true,
			})
		}
		if err := p.Store.AddBlock(ctx, block); err != nil {
			p.Logger.Warn(ctx, "chatpipeline: failed to persist citation block", "error", err)
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func (p *Pipeline) assemblePrompt(ctx context.Context, systemPrompt string, history []*Message, citationBlocks []*Block) ([]CompletionMessage, error) {
	var out []CompletionMessage
	for _, m := range history {
		text, err := p.Store.MessageText(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		role := m.Role
		if role == RoleTool {
			role = RoleAssistant
		}
		out = append(out, CompletionMessage{Role: role, Content: text})
	}
	if len(citationBlocks) > 0 {
		var retrieved string
		for _, b := range citationBlocks {
			if b.Status == BlockSuccess {
				retrieved += b.CitationsJSON + "\n"
			}
		}
		if retrieved != "" {
			out = append(out, CompletionMessage{Role: RoleSystem, Content: "Retrieved context:\n" + retrieved})
		}
	}
	_ = systemPrompt
	return out, nil
}

type streamOutcome struct {
	status     BlockStatus
	err        error
	usage      Usage
	toolRounds int
}

// stream runs stage 6 (LLM streaming) and stage 7 (bounded tool loop),
// racing the cancel token against the provider's stream per §4.2.3: a
// select on ctx.Done() beside the next chunk, not a bare range, so
// cancellation is observed mid-stream instead of only between chunks.
func (p *Pipeline) stream(ctx context.Context, req SendRequest, provider Provider, model string, messages []CompletionMessage, systemPrompt string) streamOutcome {
	contentBlock := &Block{MessageID: req.assistantMessageID, BlockType: BlockContent, Status: BlockRunning, StartedAt: time.Now()}
	if err := p.Store.AddBlock(ctx, contentBlock); err != nil {
		return streamOutcome{status: BlockFailed, err: err}
	}
	p.Bus.Publish(ctx, blockChannel(req.assistantMessageID), BlockEvent{Kind: BlockEventStart, MessageID: req.assistantMessageID, BlockID: contentBlock.ID, BlockType: BlockContent})

	round := 0
	var totalUsage Usage
	for {
		reqChunk := &CompletionRequest{Model: model, System: systemPrompt, Messages: messages, Tools: p.Tools}
		chunks, err := provider.Complete(ctx, reqChunk)
		if err != nil {
			p.Store.TransitionBlock(ctx, contentBlock.ID, BlockFailed, "")
			return streamOutcome{status: BlockFailed, err: err, toolRounds: round}
		}

		var pendingTools []ToolCall
		cancelled := false
	drain:
		for {
			select {
			case <-ctx.Done():
				cancelled = true
				break drain
			case chunk, ok := <-chunks:
				if !ok {
					break drain
				}
				switch chunk.Kind {
				case ChunkContent:
					p.Store.AppendBlockContent(ctx, contentBlock.ID, chunk.Text)
					p.Bus.Publish(ctx, blockChannel(req.assistantMessageID), BlockEvent{Kind: BlockEventChunk, MessageID: req.assistantMessageID, BlockID: contentBlock.ID, BlockType: BlockContent, Delta: chunk.Text})
				case ChunkToolCall:
					if chunk.ToolCall != nil {
						pendingTools = append(pendingTools, *chunk.ToolCall)
					}
				case ChunkDone:
					if chunk.Usage != nil {
						totalUsage = addUsage(totalUsage, *chunk.Usage)
					}
				case ChunkError:
					p.Store.TransitionBlock(ctx, contentBlock.ID, BlockFailed, "")
					return streamOutcome{status: BlockFailed, err: chunk.Err, toolRounds: round, usage: totalUsage}
				}
			}
		}

		if cancelled {
			p.Store.TransitionBlock(ctx, contentBlock.ID, BlockCancelled, "")
			p.Bus.Publish(ctx, blockChannel(req.assistantMessageID), BlockEvent{Kind: BlockEventEnd, MessageID: req.assistantMessageID, BlockID: contentBlock.ID, BlockType: BlockContent})
			return streamOutcome{status: BlockCancelled, toolRounds: round, usage: totalUsage}
		}

		if len(pendingTools) == 0 {
			break
		}
		round++
		if err := p.ToolLoop.CheckRoundBudget(round); err != nil {
			errBlock := &Block{MessageID: req.assistantMessageID, BlockType: BlockError, Status: BlockFailed, Content: err.Error()}
			p.Store.AddBlock(ctx, errBlock)
			break
		}
		outcomes := p.ToolLoop.RunRound(ctx, round, pendingTools)
		messages = append(messages, toolOutcomesToMessages(outcomes)...)
		for _, o := range outcomes {
			resultBlock := &Block{
				MessageID:       req.assistantMessageID,
				BlockType:       BlockMCPTool,
				Status:          outcomeStatus(o.Result),
				ToolName:        o.Call.Name,
				ToolInputJSON:   inputJSON(o.Call.Input),
				ToolOutputJSON:  o.Result.Data,
				StartedAt:       time.Now().Add(-o.Elapsed),
				EndedAt:         time.Now(),
			}
			p.Store.AddBlock(ctx, resultBlock)
			p.Bus.Publish(ctx, requestAuditChannel, RequestAuditEvent{
				SessionID: req.SessionID, MessageID: req.assistantMessageID,
				Kind: "tool_call", Name: o.Call.Name, Ok: o.Result.OK, Error: o.Result.Err,
			})
		}
	}

	p.Store.TransitionBlock(ctx, contentBlock.ID, BlockSuccess, "")
	p.Bus.Publish(ctx, blockChannel(req.assistantMessageID), BlockEvent{Kind: BlockEventEnd, MessageID: req.assistantMessageID, BlockID: contentBlock.ID, BlockType: BlockContent})
	return streamOutcome{status: BlockSuccess, toolRounds: round, usage: totalUsage}
}

func addUsage(a, b Usage) Usage {
	return Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		CacheRead:    a.CacheRead + b.CacheRead,
		CacheWrite:   a.CacheWrite + b.CacheWrite,
	}
}

func outcomeStatus(r ToolResult) BlockStatus {
	if r.OK {
		return BlockSuccess
	}
	return BlockFailed
}

func inputJSON(input map[string]any) string {
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func toolOutcomesToMessages(outcomes []ToolRoundOutcome) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(outcomes))
	for _, o := range outcomes {
		content := o.Result.Data
		if !o.Result.OK {
			content = o.Result.Err
		}
		out = append(out, CompletionMessage{Role: RoleTool, Content: content})
	}
	return out
}

// finalize persists stage 8: status, session updated_at, and a lazy
// summariser invocation, and emits the terminal session event.
func (p *Pipeline) finalize(ctx context.Context, req SendRequest, outcome streamOutcome, elapsed time.Duration) {
	if err := p.Store.touchSession(ctx, p.Store.db, req.SessionID); err != nil {
		p.Logger.Warn(ctx, "chatpipeline: failed to touch session", "error", err)
	}

	kind := SessionStreamComplete
	errMsg := ""
	switch outcome.status {
	case BlockCancelled:
		kind = SessionStreamCancelled
	case BlockFailed:
		kind = SessionStreamError
		if outcome.err != nil {
			errMsg = outcome.err.Error()
		}
	}
	p.Bus.Publish(ctx, sessionChannel(req.SessionID), SessionEvent{
		Kind: kind, SessionID: req.SessionID, MessageID: req.assistantMessageID, Error: errMsg,
	})

	if p.Summarize != nil && outcome.status == BlockSuccess {
		go p.Summarize(context.Background(), req.SessionID)
	}
}
