package grading

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/observability"
	"github.com/haasonsaas/nexus-study/internal/vfs"
)

// EventKind identifies one essay-grading stream event, published on
// essay_grading_stream_<session_id>.
type EventKind string

const (
	EventData      EventKind = "data"
	EventCancelled EventKind = "cancelled"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
)

// Event is one message on an essay grading session's stream channel.
type Event struct {
	Kind         EventKind
	Chunk        string
	Accumulated  string
	RoundID      string
	OverallScore *float64
	ScoresJSON   string
	CreatedAt    string
	Err          string
}

func essayChannel(sessionID string) string {
	return "essay_grading_stream_" + sessionID
}

// Result is one completed grading round.
type Result struct {
	RoundID        string
	SessionID      string
	RoundNumber    int
	RawResult      string
	OverallScore   *float64
	DimensionScores []DimensionScore
	CreatedAt      time.Time
}

// Pipeline runs essay grading rounds: resolve rubric, assemble prompts,
// stream the model, parse the score, and commit into the VFS essay store.
// Mirrors chatpipeline.Pipeline's stage shape (registry-gated streaming,
// race cancel vs. chunk, persist only on a clean completion) re-targeted at
// essay grading's simpler one-shot-result model instead of per-block
// streaming.
type Pipeline struct {
	Sessions    *chatpipeline.Store
	Essays      *vfs.EssayRepo
	Resources   *vfs.ResourceStore
	Providers   *chatpipeline.ProviderRegistry
	Registry    *chatpipeline.Registry
	Bus         *chatpipeline.Bus
	CustomModes []GradingMode
	Logger      *observability.Logger
}

// Grade runs one grading round end-to-end. Returns (nil, nil) if the
// caller cancelled before or during the stream (spec.md §4.6 step 6: "on
// cancel, emit cancelled event, return without persisting").
func (p *Pipeline) Grade(ctx context.Context, model string, req *Request) (*Result, error) {
	session, err := p.Sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionMissing, err)
	}

	mode := ResolveMode(req.ModeID, p.CustomModes)
	systemPrompt, userPrompt, err := buildPrompts(req, mode)
	if err != nil {
		return nil, err
	}

	provider, err := p.Providers.Resolve(model)
	if err != nil {
		return nil, err
	}

	imageRefs, err := p.storeImages(ctx, req.ImageBase64List)
	if err != nil {
		return nil, err
	}
	topicImageRefs, err := p.storeImages(ctx, req.TopicImageBase64List)
	if err != nil {
		return nil, err
	}
	imageRefs = append(imageRefs, topicImageRefs...)

	streamCtx, unregister, err := p.Registry.TryRegister(ctx, "essay:"+req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unregister()

	accumulated, status := p.stream(streamCtx, provider, model, systemPrompt, userPrompt, imageRefs, req.SessionID)
	switch status {
	case streamCancelled:
		p.publish(req.SessionID, Event{Kind: EventCancelled})
		return nil, nil
	case streamIncomplete:
		return nil, ErrIncomplete
	}

	// second cancel check: the "pending cancel" window between the stream
	// ending and the commit below (spec.md §4.6 step 7).
	select {
	case <-streamCtx.Done():
		p.publish(req.SessionID, Event{Kind: EventCancelled})
		return nil, nil
	default:
	}

	parsed := ParseScore(accumulated, mode)
	var overallScore *float64
	var scoresJSON string
	if parsed != nil {
		overallScore = &parsed.Total
		if b, err := json.Marshal(parsed); err == nil {
			scoresJSON = string(b)
		}
	}

	title := RoundTitle(session.Title, req.RoundNumber)
	if req.RoundNumber <= 1 && session.Title == "" && title != "" {
		if err := p.Sessions.SetTitle(ctx, req.SessionID, title); err != nil && p.Logger != nil {
			p.Logger.Warn(ctx, "grading: failed to set session title", "session_id", req.SessionID, "error", err)
		}
	}

	essay, err := p.Essays.CreateGraded(ctx, req.SessionID, req.RoundNumber, req.Topic, req.EssayType, req.GradeLevel, accumulated, overallScore, scoresJSON, "")
	if err != nil {
		return nil, fmt.Errorf("grading: commit essay: %w", err)
	}

	result := &Result{
		RoundID:      essay.ID,
		SessionID:    req.SessionID,
		RoundNumber:  req.RoundNumber,
		RawResult:    accumulated,
		OverallScore: overallScore,
	}
	if parsed != nil {
		result.DimensionScores = parsed.Dimensions
	}
	result.CreatedAt = time.UnixMilli(essay.CreatedAt)

	p.publish(req.SessionID, Event{
		Kind: EventComplete, RoundID: essay.ID, Accumulated: accumulated,
		OverallScore: overallScore, ScoresJSON: scoresJSON,
		CreatedAt: result.CreatedAt.Format(time.RFC3339),
	})
	return result, nil
}

// Cancel flips the cancel token for sessionID's in-flight grading stream,
// if any.
func (p *Pipeline) Cancel(sessionID string) bool {
	return p.Registry.Cancel("essay:" + sessionID)
}

type streamStatus int

const (
	streamOK streamStatus = iota
	streamCancelled
	streamIncomplete
)

// stream races cancellation against chunk arrival and accumulates the full
// response. It never persists a partial result: an Incomplete stream (no
// ChunkDone ever arrives) is discarded entirely by the caller.
func (p *Pipeline) stream(ctx context.Context, provider chatpipeline.Provider, model, systemPrompt, userPrompt string, imageRefs []string, sessionID string) (string, streamStatus) {
	messages := []chatpipeline.CompletionMessage{
		{Role: chatpipeline.RoleUser, Content: userPrompt, ImageRefs: imageRefs},
	}
	chunks, err := provider.Complete(ctx, &chatpipeline.CompletionRequest{Model: model, System: systemPrompt, Messages: messages})
	if err != nil {
		if p.Logger != nil {
			p.Logger.Error(ctx, "grading: completion request failed", "session_id", sessionID, "error", err)
		}
		return "", streamIncomplete
	}

	var accumulated string
	for {
		select {
		case <-ctx.Done():
			return accumulated, streamCancelled
		case chunk, ok := <-chunks:
			if !ok {
				return accumulated, streamIncomplete
			}
			switch chunk.Kind {
			case chatpipeline.ChunkContent, chatpipeline.ChunkThinking:
				accumulated += chunk.Text
				p.publish(sessionID, Event{Kind: EventData, Chunk: chunk.Text, Accumulated: accumulated})
			case chatpipeline.ChunkDone:
				return accumulated, streamOK
			case chatpipeline.ChunkError:
				p.publish(sessionID, Event{Kind: EventError, Err: chunk.Err.Error()})
				return accumulated, streamIncomplete
			}
		}
	}
}

func (p *Pipeline) storeImages(ctx context.Context, images []string) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	refs := make([]string, 0, len(images))
	for _, b64 := range images {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("grading: decode image: %w", err)
		}
		id, _, _, err := p.Resources.CreateOrReuse(ctx, vfs.TypeImage, data, "")
		if err != nil {
			return nil, fmt.Errorf("grading: store image: %w", err)
		}
		refs = append(refs, id)
	}
	return refs, nil
}

func (p *Pipeline) publish(sessionID string, evt Event) {
	if p.Bus == nil {
		return
	}
	p.Bus.Publish(context.Background(), essayChannel(sessionID), evt)
}
