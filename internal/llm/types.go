// Package llm provides the model client interface and implementations.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by the model.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Message represents a chat message. An assistant message with tool calls
// may have empty content; a tool message must carry ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a complete tool call from the model.
// Immutable once a round completes.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its arguments as JSON text.
// During streaming the arguments arrive as fragments and are assembled by
// the Accumulator.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []map[string]any
}

// Usage is token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the unified response from the model.
type ChatResponse struct {
	ID           string
	Model        string
	Message      Message
	FinishReason string
	Usage        Usage
}

// Delta is an incremental fragment of a streaming response.
type Delta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// ToolCallDelta is a partial tool call carried by one streaming delta.
// Index addresses the call being assembled; ID and Name may arrive once
// while Arguments arrives as many small fragments.
type ToolCallDelta struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// StreamHandler receives streaming deltas in arrival order.
type StreamHandler func(Delta)

// Client is the model client interface consumed by the orchestrator.
type Client interface {
	// Chat sends a non-streaming chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends a streaming request. If fn is non-nil it receives
	// every delta in arrival order; the assembled final response is
	// returned once the stream ends.
	ChatStream(ctx context.Context, req ChatRequest, fn StreamHandler) (*ChatResponse, error)

	// Ping checks whether the upstream endpoint is reachable.
	Ping(ctx context.Context) error
}
