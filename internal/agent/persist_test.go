package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/memory"
)

type recordingStore struct {
	mu        sync.Mutex
	messages  []memory.Message
	toolCalls []string
}

func (s *recordingStore) AppendMessage(sessionID string, msg memory.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return "id", nil
}

func (s *recordingStore) RecordToolCall(sessionID, toolCallID, toolName, arguments, result, errMsg string, started time.Time, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, toolName)
	return nil
}

type recordingSemantic struct {
	mu      sync.Mutex
	entries []string // "origin: content"
}

func (s *recordingSemantic) Add(ctx context.Context, sessionID, origin, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, origin+": "+content)
	return nil
}

func TestPersisterWritesTurn(t *testing.T) {
	store := &recordingStore{}
	semantic := &recordingSemantic{}
	p := NewPersister(store, semantic, nil)

	p.Enqueue(TurnRecord{
		SessionID:     "s1",
		Persona:       "default",
		MemoryEnabled: true,
		UserMessage:   llm.Message{Role: llm.RoleUser, Content: "what time is it?"},
		Generated: []llm.Message{
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1"}}},
			{Role: llm.RoleTool, ToolCallID: "call_1", Content: "noon"},
			{Role: llm.RoleAssistant, Content: "It is noon."},
		},
		ToolCalls: []ToolCallRecord{{ID: "call_1", Name: "clock", Result: "noon"}},
	})
	p.Close()

	if len(store.messages) != 4 {
		t.Fatalf("messages persisted = %d, want 4", len(store.messages))
	}
	if store.messages[0].Role != llm.RoleUser || store.messages[3].Content != "It is noon." {
		t.Errorf("messages out of order: %+v", store.messages)
	}
	if len(store.toolCalls) != 1 || store.toolCalls[0] != "clock" {
		t.Errorf("tool calls = %v", store.toolCalls)
	}

	// User message plus the last non-empty assistant message embed.
	want := []string{
		memory.OriginUser + ": what time is it?",
		memory.OriginAssistant + ": It is noon.",
	}
	if len(semantic.entries) != 2 || semantic.entries[0] != want[0] || semantic.entries[1] != want[1] {
		t.Errorf("embedded = %v, want %v", semantic.entries, want)
	}
}

func TestPersisterMemoryDisabledSkipsEmbedding(t *testing.T) {
	store := &recordingStore{}
	semantic := &recordingSemantic{}
	p := NewPersister(store, semantic, nil)

	p.Enqueue(TurnRecord{
		SessionID:   "s1",
		Persona:     "default",
		UserMessage: llm.Message{Role: llm.RoleUser, Content: "what time is it?"},
		Generated: []llm.Message{
			{Role: llm.RoleAssistant, Content: "It is noon."},
		},
	})
	p.Close()

	if len(store.messages) != 2 {
		t.Fatalf("messages persisted = %d, want 2", len(store.messages))
	}
	if len(semantic.entries) != 0 {
		t.Errorf("embedded %v for a memory-disabled persona", semantic.entries)
	}
}

func TestPersisterNilSemantic(t *testing.T) {
	store := &recordingStore{}
	p := NewPersister(store, nil, nil)
	p.Enqueue(TurnRecord{
		SessionID:   "s1",
		UserMessage: llm.Message{Role: llm.RoleUser, Content: "hi"},
	})
	p.Close()

	if len(store.messages) != 1 {
		t.Fatalf("messages persisted = %d, want 1", len(store.messages))
	}
}

func TestPersisterCloseIdempotent(t *testing.T) {
	p := NewPersister(&recordingStore{}, nil, nil)
	p.Close()
	p.Close()
}
