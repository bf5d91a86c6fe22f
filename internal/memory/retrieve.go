package memory

import (
	"context"
	"log/slog"
	"time"
)

// Searcher is the recall surface the retriever depends on. *SemanticStore
// satisfies it; tests substitute scripted implementations.
type Searcher interface {
	Search(ctx context.Context, sessionID, query, origin string, k int, minSimilarity float32) ([]Recalled, error)
}

// RetrieverConfig bounds a retrieval pass.
type RetrieverConfig struct {
	MaxResults       int           // per origin (default 3)
	MinSimilarity    float32       // results below this are dropped
	IncludeUser      bool          // recall prior user messages
	IncludeAssistant bool          // recall prior assistant messages
	Timeout          time.Duration // whole-call budget, both origins (default 2s)
}

func (c *RetrieverConfig) applyDefaults() {
	if c.MaxResults <= 0 {
		c.MaxResults = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

// Retriever recalls relevant prior messages for prompt injection.
type Retriever struct {
	store  Searcher
	logger *slog.Logger
}

// NewRetriever creates a retriever over the given store.
func NewRetriever(store Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:  store,
		logger: logger.With("component", "memory_retriever"),
	}
}

// Retrieved holds recalled memory grouped by origin, ready for prompt
// injection.
type Retrieved struct {
	User      []string
	Assistant []string
}

// Empty reports whether nothing was recalled.
func (r Retrieved) Empty() bool {
	return len(r.User) == 0 && len(r.Assistant) == 0
}

// Retrieve recalls memories for one session similar to query under one
// shared deadline. Retrieval never fails the caller: store errors
// degrade to an empty result, logged at warn. Exceeding the deadline
// drops every category, never just the slow one, so the prompt never
// carries a lopsided memory section.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, query string, cfg RetrieverConfig) Retrieved {
	cfg.applyDefaults()
	if query == "" || (!cfg.IncludeUser && !cfg.IncludeAssistant) {
		return Retrieved{}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var out Retrieved
	if cfg.IncludeUser {
		out.User = r.searchOrigin(ctx, sessionID, query, OriginUser, cfg)
	}
	if cfg.IncludeAssistant {
		out.Assistant = r.searchOrigin(ctx, sessionID, query, OriginAssistant, cfg)
	}

	if ctx.Err() != nil {
		r.logger.Warn("memory retrieval deadline exceeded, dropping all recalled memory",
			"session", sessionID, "timeout", cfg.Timeout)
		return Retrieved{}
	}
	return out
}

func (r *Retriever) searchOrigin(ctx context.Context, sessionID, query, origin string, cfg RetrieverConfig) []string {
	results, err := r.store.Search(ctx, sessionID, query, origin, cfg.MaxResults, cfg.MinSimilarity)
	if err != nil {
		r.logger.Warn("memory retrieval failed, continuing without",
			"origin", origin,
			"error", err)
		return nil
	}

	items := make([]string, 0, len(results))
	for _, res := range results {
		items = append(items, res.Content)
	}
	return items
}
