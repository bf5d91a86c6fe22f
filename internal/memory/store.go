// Package memory provides conversation persistence, semantic recall,
// and context window management.
package memory

import (
	"encoding/json"
	"time"

	"github.com/veris-ai/veris/internal/llm"
)

// Message is a persisted conversation message. ToolCalls holds the
// JSON-encoded tool call list for assistant messages that invoked tools.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCalls  string    `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count"`
}

// Session is one conversation thread with its running counters.
type Session struct {
	ID            string    `json:"id"`
	Persona       string    `json:"persona"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	MessageCount  int       `json:"message_count"`
	ToolCallCount int       `json:"tool_call_count"`
	TotalTokens   int       `json:"total_tokens"`
}

// ToLLM converts a persisted message to the model wire shape.
func (m Message) ToLLM() llm.Message {
	out := llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if m.ToolCalls != "" {
		// Best effort: malformed rows degrade to plain content.
		_ = json.Unmarshal([]byte(m.ToolCalls), &out.ToolCalls)
	}
	return out
}

// FromLLM converts a model message to its persisted shape. The ID and
// timestamp are assigned by the store on insert.
func FromLLM(msg llm.Message) Message {
	out := Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		TokenCount: estimateTokens(msg.Content),
	}
	if len(msg.ToolCalls) > 0 {
		if data, err := json.Marshal(msg.ToolCalls); err == nil {
			out.ToolCalls = string(data)
		}
	}
	return out
}

// ToLLMMessages converts a persisted history to model messages in order.
func ToLLMMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ToLLM()
	}
	return out
}

// estimateTokens provides a rough token count estimate.
// Rule of thumb: ~4 characters per token for English.
func estimateTokens(text string) int {
	return len(text) / 4
}
