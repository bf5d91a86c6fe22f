package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/veris-ai/veris/internal/llm"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndGetMessages(t *testing.T) {
	store := testStore(t)

	if _, err := store.AppendMessage("s1", Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendMessage("s1", Message{Role: "assistant", Content: "hi there"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.GetMessages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("wrong order: %q then %q", msgs[0].Role, msgs[1].Role)
	}
	if msgs[0].ID == "" {
		t.Error("message ID not assigned")
	}
}

func TestSessionCounters(t *testing.T) {
	store := testStore(t)

	content := "0123456789abcdef" // 16 chars, 4 tokens
	if _, err := store.AppendMessage("s1", Message{Role: "user", Content: content}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendMessage("s1", Message{Role: "assistant", Content: content}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordToolCall("s1", "call_1", "clock", "{}", "noon", "", time.Now(), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	sess, err := store.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil {
		t.Fatal("session missing")
	}
	if sess.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", sess.MessageCount)
	}
	if sess.ToolCallCount != 1 {
		t.Errorf("ToolCallCount = %d, want 1", sess.ToolCallCount)
	}
	if sess.TotalTokens != 8 {
		t.Errorf("TotalTokens = %d, want 8", sess.TotalTokens)
	}
}

func TestToolCallRoundtrip(t *testing.T) {
	store := testStore(t)

	msg := FromLLM(llm.Message{
		Role:    "assistant",
		Content: "",
		ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: llm.FunctionCall{Name: "clock", Arguments: `{"tz":"UTC"}`},
		}},
	})
	if _, err := store.AppendMessage("s1", msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.GetMessages("s1")
	if err != nil {
		t.Fatal(err)
	}
	back := msgs[0].ToLLM()
	if len(back.ToolCalls) != 1 || back.ToolCalls[0].Function.Name != "clock" {
		t.Errorf("tool calls lost through persistence: %+v", back)
	}
}

func TestClear(t *testing.T) {
	store := testStore(t)

	if _, err := store.AppendMessage("s1", Message{Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear("s1"); err != nil {
		t.Fatal(err)
	}

	sess, err := store.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Error("session survived Clear")
	}
	msgs, _ := store.GetMessages("s1")
	if len(msgs) != 0 {
		t.Error("messages survived Clear")
	}
}

func TestListSessions(t *testing.T) {
	store := testStore(t)

	if _, err := store.GetOrCreateSession("a", "default"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendMessage("b", Message{Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	sessions, err := store.ListSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestToolCallStats(t *testing.T) {
	store := testStore(t)

	now := time.Now()
	if _, err := store.GetOrCreateSession("s1", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordToolCall("s1", "c1", "clock", "{}", "noon", "", now, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordToolCall("s1", "c2", "get_weather", "{}", "", "network down", now, time.Millisecond); err != nil {
		t.Fatal(err)
	}

	stats := store.ToolCallStats()
	if stats["total_calls"] != 2 {
		t.Errorf("total_calls = %v", stats["total_calls"])
	}
	if rate := stats["error_rate"].(float64); rate != 0.5 {
		t.Errorf("error_rate = %v, want 0.5", rate)
	}
}
