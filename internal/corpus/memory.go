package corpus

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync/atomic"
)

// Memory is an in-process Index over a snapshot slice. Replace swaps the
// whole snapshot atomically, so readers observe either the pre- or
// post-refresh corpus and never block each other.
type Memory struct {
	snapshot atomic.Pointer[[]Item]
}

// NewMemory creates an in-memory index seeded with the given items.
func NewMemory(items []Item) *Memory {
	m := &Memory{}
	m.Replace(items)
	return m
}

// Replace installs a new corpus snapshot. The slice is copied, so the caller
// may reuse its backing array.
func (m *Memory) Replace(items []Item) {
	snap := make([]Item, len(items))
	copy(snap, items)
	m.snapshot.Store(&snap)
}

// Len reports the current corpus size.
func (m *Memory) Len() int {
	return len(*m.snapshot.Load())
}

// Search scores every item in the snapshot against the query vector and
// returns the top k. Sorting is stable, so equal similarities keep corpus
// insertion order.
func (m *Memory) Search(_ context.Context, vector []float32, k int) ([]Neighbor, error) {
	snap := *m.snapshot.Load()

	neighbors := make([]Neighbor, 0, len(snap))
	for _, item := range snap {
		neighbors = append(neighbors, Neighbor{
			Item:       item,
			Similarity: cosineSimilarity(vector, item.Embedding),
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})

	if k >= 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Lookup fetches an item by ID or display name, case-insensitive.
func (m *Memory) Lookup(_ context.Context, key string) (Item, bool, error) {
	snap := *m.snapshot.Load()
	for _, item := range snap {
		if strings.EqualFold(item.ID, key) || strings.EqualFold(item.Meta.Name, key) {
			return item, true, nil
		}
	}
	return Item{}, false, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-magnitude vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
