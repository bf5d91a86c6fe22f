package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veris-ai/veris/internal/agent"
	"github.com/veris-ai/veris/internal/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
	// The API carries no cookies or ambient credentials, so cross-origin
	// browser clients are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is one chat turn sent by the client.
type wsRequest struct {
	Message   string `json:"message"`
	Persona   string `json:"persona,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// wsFrame is one server-to-client frame. Type is "delta" for streamed
// content, "done" when the turn completes, or "error".
type wsFrame struct {
	Type         string     `json:"type"`
	Content      string     `json:"content,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	Iterations   int        `json:"iterations,omitempty"`
	Usage        *llm.Usage `json:"usage,omitempty"`
	Error        string     `json:"error,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

// handleChatSocket serves a persistent chat connection: the client sends
// wsRequest frames one at a time and receives delta frames as the model
// streams, then a done frame. Turns are processed serially per socket.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("remote", r.RemoteAddr)
	log.Debug("websocket chat connected")

	// Session identity sticks to the socket once established.
	sticky := ""

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}

		if req.Message == "" {
			s.writeFrame(conn, wsFrame{Type: "error", Error: "message is required"})
			continue
		}

		persona, err := s.personas.Persona(req.Persona)
		if err != nil {
			s.writeFrame(conn, wsFrame{Type: "error", Error: err.Error()})
			continue
		}

		session := req.SessionID
		if session == "" {
			if sticky == "" {
				sticky = uuid.NewString()
			}
			session = sticky
		}

		resp, err := s.loop.RunTurn(r.Context(), agent.Request{
			SessionID:   session,
			Persona:     *persona,
			UserMessage: req.Message,
			OnDelta: func(content string) {
				s.writeFrame(conn, wsFrame{Type: "delta", Content: content})
			},
		})
		if err != nil {
			log.Error("turn failed", "session", session, "error", err)
			s.writeFrame(conn, wsFrame{Type: "error", Error: "upstream model error", SessionID: session})
			continue
		}

		usage := resp.Usage
		s.writeFrame(conn, wsFrame{
			Type:         "done",
			Content:      resp.Content,
			FinishReason: resp.FinishReason,
			SessionID:    session,
			Iterations:   resp.Iterations,
			Usage:        &usage,
			// A degraded turn still completes; the notice rides along
			// so the client can flag the partial output.
			Error: resp.Err,
		})
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsFrame) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
