// Package api implements the OpenAI-compatible HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veris-ai/veris/internal/agent"
	"github.com/veris-ai/veris/internal/buildinfo"
	"github.com/veris-ai/veris/internal/config"
	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/memory"
	"github.com/veris-ai/veris/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     *agent.Loop
	personas *config.Personas
	store    *memory.SQLiteStore // nil disables session endpoints
	registry *tools.Registry     // nil disables tool introspection
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates an API server over an orchestration loop.
func NewServer(address string, port int, loop *agent.Loop, personas *config.Personas, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		loop:     loop,
		personas: personas,
		logger:   logger.With("component", "api"),
	}
}

// SetStore configures the persistence store for session endpoints.
func (s *Server) SetStore(store *memory.SQLiteStore) { s.store = store }

// SetRegistry configures the tool registry for introspection endpoints.
func (s *Server) SetRegistry(r *tools.Registry) { s.registry = r }

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// OpenAI-compatible endpoints
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)

	// WebSocket streaming chat
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatSocket)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Session introspection
	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionClear)

	// Tool introspection
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/tools/stats", s.handleToolStats)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Veris",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// handleModels lists the configured personas in OpenAI model-list shape,
// so off-the-shelf clients can pick one by "model" name.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	data := make([]map[string]any, 0)
	for _, name := range s.personas.Names() {
		data = append(data, map[string]any{
			"id":       name,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "veris",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"object": "list", "data": data}, s.logger)
}

// ChatCompletionRequest is the OpenAI-compatible request format. Model
// selects a persona by name; conversation history lives server-side, so
// only the final user message is consumed.
type ChatCompletionRequest struct {
	Model         string        `json:"model"`
	Messages      []llm.Message `json:"messages"`
	Stream        bool          `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage,omitempty"`
	} `json:"stream_options,omitempty"`
	User string `json:"user,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   llm.Usage `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// lastUserMessage returns the content of the final user-role message.
func lastUserMessage(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// sessionID resolves the conversation identity for a request: the
// X-Session-Id header wins, then the OpenAI "user" field, then a fresh
// id for a one-shot conversation.
func sessionID(r *http.Request, req ChatCompletionRequest) string {
	if id := r.Header.Get("X-Session-Id"); id != "" {
		return id
	}
	if req.User != "" {
		return req.User
	}
	return uuid.NewString()
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userMsg := lastUserMessage(req.Messages)
	if userMsg == "" {
		s.errorResponse(w, http.StatusBadRequest, "no user message in request")
		return
	}

	persona, err := s.personas.Persona(req.Model)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	session := sessionID(r, req)
	w.Header().Set("X-Session-Id", session)

	agentReq := agent.Request{
		SessionID:   session,
		Persona:     *persona,
		UserMessage: userMsg,
	}

	if req.Stream {
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		s.streamCompletion(w, r, agentReq, persona.Name, includeUsage)
		return
	}

	resp, err := s.loop.RunTurn(r.Context(), agentReq)
	if err != nil {
		s.logger.Error("turn failed", "session", session, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "upstream model error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   persona.Name,
		Choices: []Choice{{
			Index:        0,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
	}, s.logger)
}

func completionID() string {
	return fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
}

// StreamChunk is the SSE chunk format for streaming responses.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *llm.Usage     `json:"usage,omitempty"`
}

// StreamChoice represents a streaming choice with delta content.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta represents incremental content.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, agentReq agent.Request, model string, includeUsage bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := completionID()
	created := time.Now().Unix()

	chunk := func(c StreamChunk) {
		s.writeSSE(w, c)
		flusher.Flush()
	}

	// Initial chunk carries the assistant role.
	chunk(StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{Role: llm.RoleAssistant}}},
	})

	rc := http.NewResponseController(w)
	streamed := false

	agentReq.OnDelta = func(content string) {
		streamed = true
		chunk(StreamChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{Content: content}}},
		})
		// Reset the write deadline so long tool rounds between deltas
		// do not trip the server timeout.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	resp, err := s.loop.RunTurn(r.Context(), agentReq)
	if err != nil {
		// Headers are gone; deliver the failure as an in-stream error
		// event so the client sees more than a dead connection.
		s.logger.Error("turn failed mid-stream", "session", agentReq.SessionID, "error", err)
		s.writeSSEError(w, "upstream model error")
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	// Content produced without streaming (final answer assembled after a
	// mid-turn failure) still reaches the client.
	if !streamed && resp.Content != "" {
		chunk(StreamChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{Content: resp.Content}}},
		})
	}

	// A degraded turn keeps its partial output but carries an error
	// notice the client can display next to it.
	if resp.Err != "" {
		s.writeSSEError(w, "the model failed mid-turn; output may be incomplete")
		flusher.Flush()
	}

	finish := resp.FinishReason
	chunk(StreamChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{}, FinishReason: &finish}},
	})

	if includeUsage {
		usage := resp.Usage
		chunk(StreamChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []StreamChoice{}, Usage: &usage,
		})
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeSSEError emits an OpenAI-style error event on an already-open
// SSE stream, where the status code can no longer change.
func (s *Server) writeSSEError(w http.ResponseWriter, message string) {
	data, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "server_error",
		},
	})
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE error event", "error", err)
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, chunk StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Debug("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE chunk", "error", err)
	}
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusNotFound, "session store not configured")
		return
	}
	sessions, err := s.store.ListSessions(100)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"sessions": sessions}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusNotFound, "session store not configured")
		return
	}
	id := r.PathValue("id")
	session, err := s.store.GetSession(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	messages, err := s.store.GetMessages(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"session": session, "messages": messages}, s.logger)
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusNotFound, "session store not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.store.Clear(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "cleared", "session": id}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.errorResponse(w, http.StatusNotFound, "tool registry not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.registry.Names()}, s.logger)
}

func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusNotFound, "session store not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.store.ToolCallStats(), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
