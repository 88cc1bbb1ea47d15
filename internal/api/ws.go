package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
)

const wsWriteTimeout = 10 * time.Second

// wsRequest is a client frame on the chat socket.
//
//	{"type": "run", "message": "any good mystery books?"}
//	{"type": "ping"}
type wsRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsResponse is a server frame. Type is "result", "error" or "pong".
type wsResponse struct {
	Type   string        `json:"type"`
	Result *agent.Result `json:"result,omitempty"`
	HTML   string        `json:"html,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleWebSocket serves a chat socket. Each run frame executes one
// cycle and is answered with a result frame carrying the answer as both
// markdown and HTML. Frames are handled in order, one at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	s.logger.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				if !s.writeFrame(conn, wsResponse{Type: "error", Error: "invalid frame: " + err.Error()}) {
					return
				}
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed normally", "remote", r.RemoteAddr)
			} else {
				s.logger.Debug("websocket read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		var resp wsResponse
		switch req.Type {
		case "ping":
			resp = wsResponse{Type: "pong"}
		case "", "run":
			if strings.TrimSpace(req.Message) == "" {
				resp = wsResponse{Type: "error", Error: "message is required"}
				break
			}
			res := s.loop.Run(ctx, req.Message)
			html, err := renderHTML(res.Answer)
			if err != nil {
				s.logger.Warn("render answer failed", "cycle_id", res.CycleID, "error", err)
			}
			resp = wsResponse{Type: "result", Result: res, HTML: html}
		default:
			resp = wsResponse{Type: "error", Error: "unknown frame type " + req.Type}
		}

		if !s.writeFrame(conn, resp) {
			return
		}
	}
}

// writeFrame sends one frame and reports whether the socket is still
// usable.
func (s *Server) writeFrame(conn *websocket.Conn, resp wsResponse) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(resp); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
