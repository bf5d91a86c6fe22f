package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// Memory origins. Retrieval queries each origin independently so the
// prompt can separate what the user said from what the assistant said.
const (
	OriginUser      = "user"
	OriginAssistant = "assistant"
)

// SemanticStore holds message embeddings for similarity recall, backed
// by a persistent chromem collection.
type SemanticStore struct {
	collection *chromem.Collection
	logger     *slog.Logger
}

// NewSemanticStore opens (or creates) the vector database at path.
// embed converts text to vectors; it is called on every add and query.
func NewSemanticStore(path string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*SemanticStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	collection, err := db.GetOrCreateCollection("messages", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	return &SemanticStore{
		collection: collection,
		logger:     logger.With("component", "semantic_memory"),
	}, nil
}

// Add embeds and stores one message for later recall. Empty content is
// skipped; there is nothing useful to recall from it.
func (s *SemanticStore) Add(ctx context.Context, sessionID, origin, content string) error {
	if content == "" {
		return nil
	}

	id, _ := uuid.NewV7()
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      id.String(),
		Content: content,
		Metadata: map[string]string{
			"session": sessionID,
			"origin":  origin,
			"stored":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Recalled is one recalled memory with its similarity score.
type Recalled struct {
	Content    string
	Origin     string
	SessionID  string
	Similarity float32
}

// Search returns up to k memories of the given session and origin most
// similar to query, filtered by minSimilarity. Memories never cross
// session boundaries. An empty collection returns no results without
// error.
func (s *SemanticStore) Search(ctx context.Context, sessionID, query, origin string, k int, minSimilarity float32) ([]Recalled, error) {
	// Rank the whole collection and filter session/origin here. chromem
	// rejects nResults larger than the matching document count, and the
	// per-(session, origin) count is not knowable up front; it scores
	// every document regardless, so fetching all ranked results costs
	// the same query.
	fetch := s.collection.Count()
	if fetch <= 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, query, fetch, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	var out []Recalled
	for _, r := range results {
		if r.Metadata["session"] != sessionID || r.Metadata["origin"] != origin || r.Similarity < minSimilarity {
			continue
		}
		out = append(out, Recalled{
			Content:    r.Content,
			Origin:     r.Metadata["origin"],
			SessionID:  r.Metadata["session"],
			Similarity: r.Similarity,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Count reports how many memories are stored.
func (s *SemanticStore) Count() int {
	return s.collection.Count()
}
