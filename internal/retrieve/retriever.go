// Package retrieve turns natural-language queries into ranked CodeBundle
// results.
//
// The retriever owns query embedding, top-K clamping, score normalization and
// the relevance floor. It does not own how the corpus is built; it only
// queries a corpus.Index.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/codecollection/bundlesearch/internal/corpus"
	"github.com/codecollection/bundlesearch/internal/log"
)

// ErrUnavailable marks embedding-service or index failures. The orchestrator
// checks for it with errors.Is to pick the degraded-answer path instead of
// surfacing a raw failure to the caller.
var ErrUnavailable = errors.New("retrieval backend unavailable")

// embedTimeout bounds a single query-embedding call.
const embedTimeout = 10 * time.Second

// Config holds the operationally tuned retrieval parameters. Correct values
// depend on the embedding model in use, so they are configuration, not
// constants.
type Config struct {
	// DefaultTopK is used when the caller requests k <= 0.
	DefaultTopK int

	// MaxTopK caps the retrieval breadth; larger requests are clamped,
	// never rejected.
	MaxTopK int

	// RelevanceFloor drops items whose normalized score falls below it.
	// Items under the floor are absent from results, not ranked last.
	RelevanceFloor float64
}

// Item is one retrieved CodeBundle with its normalized relevance and 1-based
// rank, plus the display fields copied from corpus metadata at retrieval
// time. Created fresh per query and never mutated.
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Collection  string   `json:"collection"`
	Platform    string   `json:"platform"`
	Tags        []string `json:"tags"`
	SourceURL   string   `json:"source_url"`
	Relevance   float64  `json:"relevance_score"`
	Rank        int      `json:"rank"`
}

// Retriever embeds queries and searches the corpus index.
type Retriever struct {
	embedder ai.Embedder
	index    corpus.Index
	cfg      Config
	logger   log.Logger
}

// New creates a Retriever. The embedder must be the same one used to build
// the index, or similarity scores are meaningless.
func New(embedder ai.Embedder, index corpus.Index, cfg Config, logger log.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("corpus index is required")
	}
	if cfg.DefaultTopK <= 0 || cfg.MaxTopK < cfg.DefaultTopK {
		return nil, fmt.Errorf("invalid top-k bounds: default %d, max %d", cfg.DefaultTopK, cfg.MaxTopK)
	}
	if cfg.RelevanceFloor < 0 || cfg.RelevanceFloor >= 1 {
		return nil, fmt.Errorf("relevance floor %.2f outside [0, 1)", cfg.RelevanceFloor)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, cfg: cfg, logger: logger}, nil
}

// Search returns the top k corpus items for query, sorted by descending
// relevance with stable tie-break by corpus order. Items below the relevance
// floor are dropped entirely.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]Item, error) {
	k = r.clampTopK(k)

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	neighbors, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: index search: %v", ErrUnavailable, err)
	}

	items := make([]Item, 0, len(neighbors))
	for _, n := range neighbors {
		relevance := normalizeSimilarity(n.Similarity)
		if relevance < r.cfg.RelevanceFloor {
			continue
		}
		item := fromCorpusItem(n.Item)
		item.Relevance = relevance
		item.Rank = len(items) + 1
		items = append(items, item)
	}

	r.logger.Debug("semantic search completed",
		"query_length", len(query),
		"k", k,
		"raw", len(neighbors),
		"kept", len(items))
	return items, nil
}

// Lookup fetches a single CodeBundle by ID or name for focused follow-up
// modes. A missing item is (zero, false, nil): the corpus can change between
// conversation turns, and that is not an error.
func (r *Retriever) Lookup(ctx context.Context, key string) (Item, bool, error) {
	ci, found, err := r.index.Lookup(ctx, key)
	if err != nil {
		return Item{}, false, fmt.Errorf("%w: lookup %q: %v", ErrUnavailable, key, err)
	}
	if !found {
		return Item{}, false, nil
	}

	item := fromCorpusItem(ci)
	item.Relevance = 1.0
	item.Rank = 1
	return item, true, nil
}

// clampTopK maps out-of-range breadth requests into [1, MaxTopK].
func (r *Retriever) clampTopK(k int) int {
	switch {
	case k <= 0:
		return r.cfg.DefaultTopK
	case k > r.cfg.MaxTopK:
		return r.cfg.MaxTopK
	default:
		return k
	}
}

// embedQuery generates the query embedding with a dedicated timeout.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := r.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(query)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	}
	return resp.Embeddings[0].Embedding, nil
}

// normalizeSimilarity maps raw cosine similarity [-1, 1] into [0, 1].
func normalizeSimilarity(sim float64) float64 {
	normalized := (sim + 1) / 2
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

func fromCorpusItem(ci corpus.Item) Item {
	return Item{
		ID:          ci.ID,
		Name:        ci.Meta.Name,
		Description: ci.Meta.Description,
		Collection:  ci.Meta.Collection,
		Platform:    ci.Meta.Platform,
		Tags:        ci.Meta.Tags,
		SourceURL:   ci.Meta.SourceURL,
	}
}
