// Package agent implements the conversation orchestration loop: context
// assembly, the bounded tool-calling iteration, and turn persistence.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veris-ai/veris/internal/config"
	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/memory"
	"github.com/veris-ai/veris/internal/prompts"
	"github.com/veris-ai/veris/internal/tools"
)

// HistoryStore loads persisted conversation history. *memory.SQLiteStore
// satisfies it.
type HistoryStore interface {
	GetMessages(sessionID string) ([]memory.Message, error)
}

// Loop drives one conversation turn through the model, tools, and memory.
type Loop struct {
	client    llm.Client
	registry  *tools.Registry
	retriever *memory.Retriever // nil when semantic memory is disabled
	history   HistoryStore      // nil means stateless turns
	persister *Persister        // nil disables persistence
	logger    *slog.Logger
}

// NewLoop wires an orchestration loop. retriever, history, and persister
// may each be nil; the loop degrades feature by feature.
func NewLoop(client llm.Client, registry *tools.Registry, retriever *memory.Retriever, history HistoryStore, persister *Persister, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:    client,
		registry:  registry,
		retriever: retriever,
		history:   history,
		persister: persister,
		logger:    logger.With("component", "agent"),
	}
}

// Request is one incoming turn.
type Request struct {
	SessionID   string
	Persona     config.Persona
	UserMessage string

	// OnDelta receives assistant content fragments as they stream from
	// the model. Tool-call plumbing is not forwarded. May be nil.
	OnDelta func(content string)
}

// Response is the completed turn.
type Response struct {
	Content      string
	FinishReason string
	Model        string
	Iterations   int
	Usage        llm.Usage

	// Err is set when a later-iteration model call failed and the turn
	// finalized early with whatever content existed. The turn itself
	// still completes; surfaces use Err to attach an error notice to
	// the (possibly partial) output.
	Err string
}

// RunTurn executes one full turn: assemble context, loop the model
// through tool rounds until it produces a final answer (or the
// iteration cap is hit), then hand the transcript to the persister.
//
// Only a failure of the first model call is returned as an error; every
// later failure degrades to whatever content has been produced, because
// the user may already have received streamed output.
func (l *Loop) RunTurn(ctx context.Context, req Request) (*Response, error) {
	persona := req.Persona
	log := l.logger.With("session", req.SessionID, "persona", persona.Name)

	messages, err := l.assembleContext(ctx, req)
	if err != nil {
		return nil, err
	}

	toolDefs := l.registry.Definitions(persona.AllowedTools)
	exec := &permittedExecutor{registry: l.registry, persona: &persona}

	resp := &Response{Model: persona.Model}
	var generated []llm.Message
	var toolRecords []ToolCallRecord

	onDelta := func(d llm.Delta) {
		if req.OnDelta != nil && d.Content != "" {
			req.OnDelta(d.Content)
		}
	}

	for iteration := 0; ; iteration++ {
		resp.Iterations = iteration + 1

		chatReq := llm.ChatRequest{
			Model:       persona.Model,
			Messages:    messages,
			Temperature: persona.Temperature,
			MaxTokens:   persona.MaxTokens,
			Tools:       toolDefs,
		}

		log.Debug("model call", "iteration", iteration, "messages", len(messages))
		modelResp, err := l.client.ChatStream(ctx, chatReq, onDelta)
		if err != nil {
			if iteration == 0 {
				return nil, fmt.Errorf("model call: %w", err)
			}
			// A mid-turn failure finalizes with what we have, flagged so
			// the surface can notify the client alongside partial output.
			log.Error("model call failed mid-turn, finalizing early",
				"iteration", iteration, "error", err)
			resp.Err = err.Error()
			resp.FinishReason = "error"
			break
		}

		if modelResp.Usage.TotalTokens > 0 {
			resp.Usage = modelResp.Usage
		}
		resp.FinishReason = modelResp.FinishReason

		if !wantsToolRound(modelResp) {
			resp.Content = modelResp.Message.Content
			generated = append(generated, modelResp.Message)
			break
		}

		if iteration+1 >= persona.MaxIterations {
			// Iteration cap: stop with whatever content exists. The cap
			// is an operational guard, never an error to the caller.
			log.Warn("tool iteration cap reached, finalizing",
				"iterations", iteration+1, "pending_calls", len(modelResp.Message.ToolCalls))
			resp.Content = modelResp.Message.Content
			generated = append(generated, modelResp.Message)
			break
		}

		results := tools.ExecuteRound(ctx, exec, modelResp.Message.ToolCalls, tools.RoundConfig{
			MaxTokens: persona.MaxTokens,
			Logger:    log,
		})
		for _, r := range results {
			toolRecords = append(toolRecords, toolRecordFrom(r, modelResp.Message.ToolCalls))
		}

		messages = append(messages, modelResp.Message)
		messages = append(messages, tools.Messages(results)...)
		generated = append(generated, modelResp.Message)
		generated = append(generated, tools.Messages(results)...)

		if memory.TotalTokens(messages) > persona.TokenBudget {
			messages = memory.Truncate(messages, persona.TokenBudget, memory.TruncateOptions{
				KeepSystem:    true,
				MinMessages:   4, // keep the tool-call/tool-result pair intact
				EnableSummary: true,
			})
		}
	}

	l.persist(req, generated, toolRecords)

	log.Info("turn complete",
		"iterations", resp.Iterations,
		"finish_reason", resp.FinishReason,
		"content_len", len(resp.Content),
		"tool_calls", len(toolRecords))
	return resp, nil
}

// assembleContext builds the model message list: system prompt with
// injected memory, persisted history, and the new user message, trimmed
// to the persona's token budget.
func (l *Loop) assembleContext(ctx context.Context, req Request) ([]llm.Message, error) {
	persona := req.Persona

	system := persona.SystemPrompt
	if system == "" {
		system = prompts.BaseSystemPrompt()
	}

	if l.retriever != nil && persona.Memory.Enabled {
		recalled := l.retriever.Retrieve(ctx, req.SessionID, req.UserMessage, memory.RetrieverConfig{
			MaxResults:       persona.Memory.MaxResults,
			MinSimilarity:    persona.Memory.MinSimilarity,
			IncludeUser:      persona.Memory.IncludeUser,
			IncludeAssistant: persona.Memory.IncludeAssistant,
			Timeout:          persona.Memory.RetrievalTimeout(),
		})
		system += prompts.MemorySection(recalled.User, recalled.Assistant)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	if l.history != nil {
		stored, err := l.history.GetMessages(req.SessionID)
		if err != nil {
			// Missing history degrades the turn, it does not fail it.
			l.logger.Warn("loading history failed, starting fresh",
				"session", req.SessionID, "error", err)
		} else {
			messages = append(messages, memory.ToLLMMessages(stored)...)
		}
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.UserMessage})

	return memory.Truncate(messages, persona.TokenBudget, memory.TruncateOptions{
		KeepSystem:    true,
		MinMessages:   2,
		EnableSummary: true,
	}), nil
}

// wantsToolRound reports whether the model response asks for tool
// execution: a tool_calls finish with at least one named call and no
// user-facing content. Content alongside tool calls means the model
// already answered; treat it as final.
func wantsToolRound(resp *llm.ChatResponse) bool {
	return resp.FinishReason == llm.FinishToolCalls &&
		len(resp.Message.ToolCalls) > 0 &&
		resp.Message.Content == ""
}

func (l *Loop) persist(req Request, generated []llm.Message, toolRecords []ToolCallRecord) {
	if l.persister == nil {
		return
	}
	l.persister.Enqueue(TurnRecord{
		SessionID:     req.SessionID,
		Persona:       req.Persona.Name,
		MemoryEnabled: req.Persona.Memory.Enabled,
		UserMessage:   llm.Message{Role: llm.RoleUser, Content: req.UserMessage},
		Generated:     generated,
		ToolCalls:     toolRecords,
	})
}

func toolRecordFrom(r tools.Result, calls []llm.ToolCall) ToolCallRecord {
	rec := ToolCallRecord{
		ID:      r.ToolCallID,
		Name:    r.Name,
		Result:  r.Content,
		Err:     r.Err,
		Started: r.Started,
		Elapsed: r.Elapsed,
	}
	for _, c := range calls {
		if c.ID == r.ToolCallID {
			rec.Arguments = c.Function.Arguments
			break
		}
	}
	return rec
}

// permittedExecutor enforces the persona's tool allowlist at execution
// time, not just at definition time. A model can hallucinate calls to
// tools it was never offered.
type permittedExecutor struct {
	registry *tools.Registry
	persona  *config.Persona
}

func (e *permittedExecutor) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	if !e.persona.ToolAllowed(name) {
		return "", &tools.ErrToolUnavailable{ToolName: name}
	}
	return e.registry.Execute(ctx, name, argsJSON)
}
