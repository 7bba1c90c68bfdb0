// Package server exposes the module's in-process packages over HTTP: a
// small REST surface for VFS/workspace/governance operations plus a
// WebSocket endpoint for streaming a chat turn's blocks, grounded on the
// chi-router/cors idiom the pack's digitallysavvy-go-ai example wires
// around an LLM backend (examples/chi-server/main.go), and the teacher's
// own WebSocket control plane (internal/gateway/ws_control_plane.go) for
// the streaming shape.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/governance"
	"github.com/haasonsaas/nexus-study/internal/grading"
	"github.com/haasonsaas/nexus-study/internal/multimodal"
	"github.com/haasonsaas/nexus-study/internal/observability"
	"github.com/haasonsaas/nexus-study/internal/vfs"
	"github.com/haasonsaas/nexus-study/internal/workspace"
)

// Deps is every backend Server routes requests into. Fields may be nil;
// routes whose backend is nil respond 503 rather than panicking.
type Deps struct {
	VFS        *vfs.Store
	Pipeline   *chatpipeline.Pipeline
	Governance *governance.Registry
	Backup     *governance.Service
	Workspace  *workspace.Manager
	Grading    *grading.Pipeline
	Embedding  *multimodal.EmbeddingService
	Retriever  *multimodal.Retriever
	Logger     *observability.Logger
	Metrics    *observability.Metrics

	// CORSOrigins is the allowed Origin list; empty means "*".
	CORSOrigins []string
}

// Server is the HTTP boundary over the in-process pipeline.
type Server struct {
	deps   Deps
	router *chi.Mux
}

// New builds a Server with every route registered.
func New(deps Deps) *Server {
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{deps: deps, router: r}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func errNotConfigured(what string) error {
	return &notConfiguredError{what: what}
}

type notConfiguredError struct{ what string }

func (e *notConfiguredError) Error() string { return e.what + " is not configured on this server" }

func (s *Server) logf(msg string, args ...any) {
	if s.deps.Logger == nil {
		return
	}
	s.deps.Logger.Info(context.Background(), msg, args...)
}
