package chatpipeline

import (
	"context"
	"sync"
)

// StreamHandle is the live state of one in-flight send_message/retry/edit
// call. cancel cooperatively signals the streaming loop (§4.2.3); done
// closes when the pipeline goroutine has fully exited, letting callers wait
// out a cancel without racing the registry.
type StreamHandle struct {
	SessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Registry is the per-session concurrency gate (§4.2.1): at most one stream
// may run per session at a time. It follows the teacher's
// mutex-guarded-map idiom (internal/workspace/manager.go's Manager.mu /
// instances), scaled down to a single map since a stream handle has no
// nested per-handle lock to protect.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*StreamHandle
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*StreamHandle)}
}

// TryRegister atomically inserts a StreamHandle for sessionID, or returns
// ErrSessionBusy if one is already running. The returned context is
// cancelled when Unregister(sessionID) or Cancel(sessionID) is called, and
// unregister must be invoked on every exit path (success, error, cancel, or
// panic) to release the gate.
func (r *Registry) TryRegister(parent context.Context, sessionID string) (ctx context.Context, unregister func(), err error) {
	r.mu.Lock()
	if _, busy := r.streams[sessionID]; busy {
		r.mu.Unlock()
		return nil, nil, ErrSessionBusy
	}
	streamCtx, cancel := context.WithCancel(parent)
	handle := &StreamHandle{SessionID: sessionID, cancel: cancel, done: make(chan struct{})}
	r.streams[sessionID] = handle
	r.mu.Unlock()

	var once sync.Once
	unregister = func() {
		once.Do(func() {
			cancel()
			close(handle.done)
			r.mu.Lock()
			if r.streams[sessionID] == handle {
				delete(r.streams, sessionID)
			}
			r.mu.Unlock()
		})
	}
	return streamCtx, unregister, nil
}

// Cancel signals the running stream for sessionID to stop, returning false
// if no stream is registered for that session. It does not block for the
// stream to actually exit; callers that need that should select on the
// handle returned from TryRegister's done channel, which this package keeps
// private since pipeline.go is the only caller that needs it.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	handle, ok := r.streams[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// IsBusy reports whether a stream is currently registered for sessionID.
func (r *Registry) IsBusy(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.streams[sessionID]
	return busy
}
