package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/multimodal"
)

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1/chat", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/sessions/{sessionID}/messages", s.handleSendMessage)
		r.Get("/sessions/{sessionID}/ws", s.handleChatWS)
	})

	s.router.Route("/v1/vfs", func(r chi.Router) {
		r.Get("/resources/{id}", s.handleGetResource)
		r.Get("/resources", s.handleSearchResources)
		r.Post("/folders", s.handleCreateFolder)
	})

	s.router.Route("/v1/workspaces", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkspace)
	})

	s.router.Post("/v1/multimodal/search", s.handleMultimodalSearch)

	s.router.Get("/v1/governance/status", s.handleGovernanceStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	Mode  string `json:"mode"`
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("chat pipeline"))
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	mode := chatpipeline.ModeChat
	if req.Mode != "" {
		mode = chatpipeline.SessionMode(req.Mode)
	}
	sess := &chatpipeline.Session{
		Mode:          mode,
		Title:         req.Title,
		PersistStatus: chatpipeline.StatusActive,
	}
	if err := s.deps.Pipeline.Store.CreateSession(r.Context(), sess); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("chat pipeline"))
		return
	}
	id := chi.URLParam(r, "sessionID")
	sess, err := s.deps.Pipeline.Store.GetSession(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type sendMessageRequest struct {
	Content        string   `json:"content"`
	AttachmentRefs []string `json:"attachment_refs"`
	Model          string   `json:"model"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("chat pipeline"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	assistantID, err := s.deps.Pipeline.SendMessage(context.Background(), chatpipeline.SendRequest{
		SessionID:      sessionID,
		Content:        req.Content,
		AttachmentRefs: req.AttachmentRefs,
		Model:          req.Model,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"assistant_message_id": assistantID})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	if s.deps.VFS == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("vfs"))
		return
	}
	id := chi.URLParam(r, "id")
	res, err := s.deps.VFS.Resources.GetResource(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchResources(w http.ResponseWriter, r *http.Request) {
	if s.deps.VFS == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("vfs"))
		return
	}
	term := r.URL.Query().Get("q")
	results, err := s.deps.VFS.Resources.Search(r.Context(), term, nil, 50, 0)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type createFolderRequest struct {
	Name        string `json:"name"`
	ParentID    string `json:"parent_id"`
	SubjectHint string `json:"subject_hint"`
	SortOrder   int64  `json:"sort_order"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	if s.deps.VFS == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("vfs"))
		return
	}
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	folder, err := s.deps.VFS.Folders.Create(r.Context(), req.Name, req.ParentID, req.SubjectHint, req.SortOrder)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

type createWorkspaceRequest struct {
	CreatorSessionID string `json:"creator_session_id"`
	Name             string `json:"name"`
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workspace == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("workspace"))
		return
	}
	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	inst, err := s.deps.Workspace.CreateWorkspace(r.Context(), req.CreatorSessionID, req.Name)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst.Workspace)
}

type multimodalSearchRequest struct {
	Query        string   `json:"query"`
	TopK         int      `json:"top_k"`
	SubLibraryIDs []string `json:"sub_library_ids"`
}

func (s *Server) handleMultimodalSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Embedding == nil || s.deps.Retriever == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("multimodal retrieval"))
		return
	}
	var req multimodalSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	vecs, err := s.deps.Embedding.EmbedViaSummary(r.Context(), []multimodal.PageInput{
		{PageID: "query", ExistingSummary: req.Query},
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	qv := &multimodal.QueryVector{Kind: multimodal.KindText, Dimension: len(vecs[0]), Vector: vecs[0]}
	results, err := s.deps.Retriever.Retrieve(r.Context(), req.Query, qv, nil, multimodal.SearchOptions{
		SubLibraryIDs: req.SubLibraryIDs,
		TopK:          req.TopK,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGovernanceStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Governance == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("governance"))
		return
	}
	status, err := s.deps.Governance.StatusAll(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
