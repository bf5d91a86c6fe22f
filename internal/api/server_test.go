package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veris-ai/veris/internal/agent"
	"github.com/veris-ai/veris/internal/config"
	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/tools"
)

// scriptedLLM returns the same answer for every call, streaming it in
// two deltas when a handler is present.
type scriptedLLM struct {
	answer string
	err    error
}

func (c *scriptedLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

func (c *scriptedLLM) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.StreamHandler) (*llm.ChatResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	if fn != nil {
		half := len(c.answer) / 2
		fn(llm.Delta{Content: c.answer[:half]})
		fn(llm.Delta{Content: c.answer[half:]})
	}
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: c.answer},
		FinishReason: llm.FinishStop,
		Usage:        llm.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}, nil
}

func (c *scriptedLLM) Ping(ctx context.Context) error { return nil }

func testServer(t *testing.T, client llm.Client) *httptest.Server {
	t.Helper()
	loop := agent.NewLoop(client, tools.NewRegistry(), nil, nil, nil, nil)
	srv := NewServer("", 0, loop, config.DefaultPersonas(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postCompletion(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestChatCompletion(t *testing.T) {
	ts := testServer(t, &scriptedLLM{answer: "Hello there."})

	resp := postCompletion(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Session-Id") == "" {
		t.Error("missing X-Session-Id header")
	}

	var out ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Object != "chat.completion" {
		t.Errorf("object = %q", out.Object)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "Hello there." {
		t.Errorf("choices = %+v", out.Choices)
	}
	if out.Choices[0].FinishReason != llm.FinishStop {
		t.Errorf("finish_reason = %q", out.Choices[0].FinishReason)
	}
	if out.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestChatCompletionStream(t *testing.T) {
	ts := testServer(t, &scriptedLLM{answer: "Hello there."})

	resp := postCompletion(t, ts,
		`{"messages":[{"role":"user","content":"hi"}],"stream":true,"stream_options":{"include_usage":true}}`)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var chunks []StreamChunk
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			break
		}
		var c StreamChunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			t.Fatalf("bad chunk %q: %v", payload, err)
		}
		chunks = append(chunks, c)
	}
	if !sawDone {
		t.Fatal("no [DONE] marker")
	}

	if chunks[0].Choices[0].Delta.Role != llm.RoleAssistant {
		t.Error("first chunk missing role delta")
	}

	var content strings.Builder
	var finish string
	var sawUsage bool
	for _, c := range chunks {
		if c.Usage != nil {
			sawUsage = true
			if c.Usage.TotalTokens != 10 {
				t.Errorf("usage chunk = %+v", c.Usage)
			}
		}
		for _, ch := range c.Choices {
			content.WriteString(ch.Delta.Content)
			if ch.FinishReason != nil {
				finish = *ch.FinishReason
			}
		}
	}
	if content.String() != "Hello there." {
		t.Errorf("streamed content = %q", content.String())
	}
	if finish != llm.FinishStop {
		t.Errorf("finish = %q", finish)
	}
	if !sawUsage {
		t.Error("usage chunk not emitted despite include_usage")
	}
}

// sequencedLLM plays back queued responses; a nil response with a
// matching error fails that call.
type sequencedLLM struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
}

func (c *sequencedLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

func (c *sequencedLLM) ChatStream(ctx context.Context, req llm.ChatRequest, fn llm.StreamHandler) (*llm.ChatResponse, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	resp := c.responses[i]
	if fn != nil && resp.Message.Content != "" {
		fn(llm.Delta{Content: resp.Message.Content})
	}
	return resp, nil
}

func (c *sequencedLLM) Ping(ctx context.Context) error { return nil }

// sseEvents collects the data payloads of an event stream, reporting
// whether the [DONE] marker arrived.
func sseEvents(t *testing.T, body io.Reader) (payloads []string, done bool) {
	t.Helper()
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return payloads, true
		}
		payloads = append(payloads, payload)
	}
	return payloads, false
}

func TestChatCompletionStreamFirstCallFailure(t *testing.T) {
	ts := testServer(t, &scriptedLLM{err: errors.New("model offline")})

	resp := postCompletion(t, ts, `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	payloads, done := sseEvents(t, resp.Body)
	if !done {
		t.Fatal("no [DONE] marker after failure")
	}
	if len(payloads) != 1 {
		t.Fatalf("events = %v, want a single error event", payloads)
	}

	var event struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(payloads[0]), &event); err != nil {
		t.Fatal(err)
	}
	if event.Error.Message == "" || event.Error.Type != "server_error" {
		t.Errorf("error event = %+v", event)
	}
}

func TestChatCompletionStreamMidTurnFailure(t *testing.T) {
	client := &sequencedLLM{
		responses: []*llm.ChatResponse{{
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: llm.FunctionCall{Name: "clock", Arguments: "{}"},
				}},
			},
			FinishReason: llm.FinishToolCalls,
		}, nil},
		errs: []error{nil, errors.New("upstream hiccup")},
	}
	ts := testServer(t, client)

	resp := postCompletion(t, ts, `{"messages":[{"role":"user","content":"time?"}],"stream":true}`)
	defer resp.Body.Close()

	payloads, done := sseEvents(t, resp.Body)
	if !done {
		t.Fatal("no [DONE] marker")
	}

	sawError := false
	finish := ""
	for _, p := range payloads {
		if strings.Contains(p, `"server_error"`) {
			sawError = true
			continue
		}
		var c StreamChunk
		if err := json.Unmarshal([]byte(p), &c); err != nil {
			t.Fatalf("bad chunk %q: %v", p, err)
		}
		for _, ch := range c.Choices {
			if ch.FinishReason != nil {
				finish = *ch.FinishReason
			}
		}
	}
	if !sawError {
		t.Error("degraded turn emitted no error event")
	}
	if finish != "error" {
		t.Errorf("finish = %q, want %q", finish, "error")
	}
}

func TestChatCompletionMidTurnFailureFinishReason(t *testing.T) {
	client := &sequencedLLM{
		responses: []*llm.ChatResponse{{
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: llm.FunctionCall{Name: "clock", Arguments: "{}"},
				}},
			},
			FinishReason: llm.FinishToolCalls,
		}, nil},
		errs: []error{nil, errors.New("upstream hiccup")},
	}
	ts := testServer(t, client)

	resp := postCompletion(t, ts, `{"messages":[{"role":"user","content":"time?"}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Choices) != 1 || out.Choices[0].FinishReason != "error" {
		t.Errorf("choices = %+v, want finish_reason %q", out.Choices, "error")
	}
}

func TestChatCompletionUnknownPersona(t *testing.T) {
	ts := testServer(t, &scriptedLLM{answer: "x"})
	resp := postCompletion(t, ts, `{"model":"nope","messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatCompletionNoUserMessage(t *testing.T) {
	ts := testServer(t, &scriptedLLM{answer: "x"})
	resp := postCompletion(t, ts, `{"messages":[{"role":"system","content":"be nice"}]}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestModelsListsPersonas(t *testing.T) {
	ts := testServer(t, &scriptedLLM{answer: "x"})
	resp, err := http.Get(ts.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Object != "list" || len(out.Data) != 1 || out.Data[0].ID != "veris" {
		t.Errorf("models = %+v", out)
	}
}

func TestHealth(t *testing.T) {
	ts := testServer(t, &scriptedLLM{answer: "x"})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
