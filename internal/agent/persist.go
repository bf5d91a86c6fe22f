package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/memory"
)

// TurnStore is the persistence surface the persister writes to.
// *memory.SQLiteStore satisfies it.
type TurnStore interface {
	AppendMessage(sessionID string, msg memory.Message) (string, error)
	RecordToolCall(sessionID, toolCallID, toolName, arguments, result, errMsg string, started time.Time, duration time.Duration) error
}

// SemanticWriter embeds finished messages for later recall.
// *memory.SemanticStore satisfies it.
type SemanticWriter interface {
	Add(ctx context.Context, sessionID, origin, content string) error
}

// ToolCallRecord is one executed tool call, ready for the audit table.
type ToolCallRecord struct {
	ID        string
	Name      string
	Arguments string
	Result    string
	Err       string
	Started   time.Time
	Elapsed   time.Duration
}

// TurnRecord is everything a finished turn needs persisted: the user
// message, every generated message (assistant and tool roles, in
// order), and the tool call audit trail.
type TurnRecord struct {
	SessionID string
	Persona   string

	// MemoryEnabled mirrors the persona's memory setting at turn time.
	// Turns run under a memory-disabled persona are transcribed but
	// never embedded for recall.
	MemoryEnabled bool

	UserMessage llm.Message
	Generated   []llm.Message
	ToolCalls   []ToolCallRecord
}

// Persister writes finished turns in the background. The caller has
// already received their answer by the time a record is enqueued, so a
// persistence failure is logged and never surfaced.
type Persister struct {
	store    TurnStore
	semantic SemanticWriter // nil disables embedding
	logger   *slog.Logger
	timeout  time.Duration

	queue chan TurnRecord
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPersister starts a persister with a bounded queue. semantic may be
// nil. Close must be called to drain the queue on shutdown.
func NewPersister(store TurnStore, semantic SemanticWriter, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{
		store:    store,
		semantic: semantic,
		logger:   logger.With("component", "persister"),
		timeout:  30 * time.Second,
		queue:    make(chan TurnRecord, 64),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue hands a finished turn to the background writer without
// blocking. When the queue is full the record is dropped and logged;
// stalling the response path is worse than losing one transcript.
func (p *Persister) Enqueue(rec TurnRecord) {
	select {
	case p.queue <- rec:
	default:
		p.logger.Error("persistence queue full, dropping turn",
			"session", rec.SessionID,
			"messages", len(rec.Generated)+1)
	}
}

// Close drains the queue and stops the worker.
func (p *Persister) Close() {
	p.once.Do(func() { close(p.queue) })
	p.wg.Wait()
}

func (p *Persister) run() {
	defer p.wg.Done()
	for rec := range p.queue {
		// Detached from the request context: the turn is already
		// answered, cancellation upstream must not lose the record.
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		p.persistTurn(ctx, rec)
		cancel()
	}
}

func (p *Persister) persistTurn(ctx context.Context, rec TurnRecord) {
	log := p.logger.With("session", rec.SessionID)

	if _, err := p.store.AppendMessage(rec.SessionID, memory.FromLLM(rec.UserMessage)); err != nil {
		log.Error("persist user message failed", "error", err)
	}
	for _, msg := range rec.Generated {
		if _, err := p.store.AppendMessage(rec.SessionID, memory.FromLLM(msg)); err != nil {
			log.Error("persist message failed", "role", msg.Role, "error", err)
		}
	}

	for _, tc := range rec.ToolCalls {
		err := p.store.RecordToolCall(rec.SessionID, tc.ID, tc.Name, tc.Arguments,
			tc.Result, tc.Err, tc.Started, tc.Elapsed)
		if err != nil {
			log.Error("persist tool call failed", "tool", tc.Name, "error", err)
		}
	}

	if p.semantic != nil && rec.MemoryEnabled {
		p.embed(ctx, log, rec)
	}

	log.Debug("turn persisted",
		"messages", len(rec.Generated)+1,
		"tool_calls", len(rec.ToolCalls))
}

// embed stores the user message and the final assistant reply for
// semantic recall. Intermediate tool plumbing is not worth embedding.
func (p *Persister) embed(ctx context.Context, log *slog.Logger, rec TurnRecord) {
	if err := p.semantic.Add(ctx, rec.SessionID, memory.OriginUser, rec.UserMessage.Content); err != nil {
		log.Warn("embed user message failed", "error", err)
	}

	for i := len(rec.Generated) - 1; i >= 0; i-- {
		msg := rec.Generated[i]
		if msg.Role == llm.RoleAssistant && msg.Content != "" {
			if err := p.semantic.Add(ctx, rec.SessionID, memory.OriginAssistant, msg.Content); err != nil {
				log.Warn("embed assistant message failed", "error", err)
			}
			break
		}
	}
}
