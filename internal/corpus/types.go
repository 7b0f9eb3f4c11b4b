package corpus

import "context"

// Metadata holds the denormalized display fields copied from the catalog when
// a CodeBundle is indexed. The indexing job owns these values; the retrieval
// core treats them as read-only.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Collection  string   `json:"collection"`
	Platform    string   `json:"platform"`
	AccessLevel string   `json:"access_level"`
	Tags        []string `json:"tags"`
	SourceURL   string   `json:"source_url"`
}

// Item is one embedded, searchable unit: a CodeBundle's descriptive text plus
// its embedding and catalog metadata. Immutable within a request.
type Item struct {
	ID        string    `json:"id"`
	Document  string    `json:"document"`
	Embedding []float32 `json:"embedding"`
	Meta      Metadata  `json:"metadata"`
}

// Neighbor is an Item paired with its raw cosine similarity to a query
// vector, in [-1, 1]. Score normalization is the retriever's concern.
type Neighbor struct {
	Item       Item
	Similarity float64
}

// Index is the vector index consumed by the retriever. Implementations must
// be safe for concurrent readers.
type Index interface {
	// Search returns the k nearest items to the query vector, ordered by
	// descending similarity with ties broken by corpus insertion order.
	Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error)

	// Lookup fetches a single item by its ID or display name
	// (case-insensitive). A missing item is (zero, false, nil), not an
	// error: the corpus can change between conversation turns.
	Lookup(ctx context.Context, key string) (Item, bool, error)
}
