package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

// wsUpgrader mirrors the teacher's ws_control_plane.go buffer sizes; origin
// checking is left to the cors middleware in front of this route, since the
// handshake itself carries no auth here.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsFrame is one JSON message sent to the client: a session-level
// lifecycle event or a block-level chunk, tagged by channel so a single
// connection can carry both without the client needing two sockets.
type wsFrame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// handleChatWS streams chat_v2_session_<id> and chat_v2_request_audit
// events for one session over a WebSocket connection until the client
// disconnects or the session stream completes. It does not itself send a
// message; callers POST to /v1/chat/sessions/{id}/messages first and then
// connect here to watch it run.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil || s.deps.Pipeline.Bus == nil {
		writeErr(w, http.StatusServiceUnavailable, errNotConfigured("chat pipeline"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	sessionChannel := "chat_v2_session_" + sessionID
	auditChannel := "chat_v2_request_audit"
	sessionEvents := s.deps.Pipeline.Bus.Subscribe(sessionChannel)
	auditEvents := s.deps.Pipeline.Bus.Subscribe(auditChannel)
	defer s.deps.Pipeline.Bus.Unsubscribe(sessionChannel)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainClientCloses(conn, cancel)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sessionEvents:
			if !ok {
				return
			}
			if err := writeFrame(conn, wsFrame{Channel: sessionChannel, Payload: evt.Payload}); err != nil {
				return
			}
			if se, ok := evt.Payload.(chatpipeline.SessionEvent); ok {
				switch se.Kind {
				case chatpipeline.SessionStreamComplete, chatpipeline.SessionStreamError, chatpipeline.SessionStreamCancelled:
					return
				}
			}
		case evt, ok := <-auditEvents:
			if !ok {
				continue
			}
			if audit, ok := evt.Payload.(chatpipeline.RequestAuditEvent); ok && audit.SessionID == sessionID {
				if err := writeFrame(conn, wsFrame{Channel: auditChannel, Payload: audit}); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// drainClientCloses reads (and discards) incoming frames so the
// connection's read deadline/close handshake is serviced, cancelling ctx
// once the client disconnects.
func drainClientCloses(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
