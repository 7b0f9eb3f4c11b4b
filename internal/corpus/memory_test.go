package corpus

import (
	"context"
	"math"
	"sync"
	"testing"
)

func testItems() []Item {
	return []Item{
		{
			ID:        "k8s-deployment-healthcheck",
			Document:  "Troubleshoot Kubernetes deployment health and rollout status",
			Embedding: []float32{1, 0, 0},
			Meta:      Metadata{Name: "k8s-deployment-healthcheck", Platform: "kubernetes"},
		},
		{
			ID:        "aws-lambda-errors",
			Document:  "Investigate AWS Lambda invocation errors",
			Embedding: []float32{0, 1, 0},
			Meta:      Metadata{Name: "aws-lambda-errors", Platform: "aws"},
		},
		{
			ID:        "postgres-vacuum-check",
			Document:  "Check PostgreSQL vacuum and bloat",
			Embedding: []float32{0, 0, 1},
			Meta:      Metadata{Name: "postgres-vacuum-check", Platform: "postgres"},
		},
	}
}

func TestMemorySearch_Ordering(t *testing.T) {
	idx := NewMemory(testItems())

	neighbors, err := idx.Search(context.Background(), []float32{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(neighbors))
	}
	if neighbors[0].Item.ID != "k8s-deployment-healthcheck" {
		t.Errorf("expected k8s item first, got %q", neighbors[0].Item.ID)
	}
	if neighbors[0].Similarity <= neighbors[1].Similarity {
		t.Errorf("results not sorted descending: %f <= %f",
			neighbors[0].Similarity, neighbors[1].Similarity)
	}
}

func TestMemorySearch_StableTieBreak(t *testing.T) {
	// Two items with identical embeddings must keep insertion order.
	items := []Item{
		{ID: "first", Embedding: []float32{1, 0}},
		{ID: "second", Embedding: []float32{1, 0}},
	}
	idx := NewMemory(items)

	neighbors, err := idx.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if neighbors[0].Item.ID != "first" || neighbors[1].Item.ID != "second" {
		t.Errorf("tie-break not stable: got %q, %q", neighbors[0].Item.ID, neighbors[1].Item.ID)
	}
}

func TestMemoryLookup(t *testing.T) {
	idx := NewMemory(testItems())

	tests := []struct {
		name      string
		key       string
		wantID    string
		wantFound bool
	}{
		{"exact id", "aws-lambda-errors", "aws-lambda-errors", true},
		{"case insensitive", "K8S-Deployment-Healthcheck", "k8s-deployment-healthcheck", true},
		{"missing", "does-not-exist", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, found, err := idx.Lookup(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("Lookup() error: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if found && item.ID != tt.wantID {
				t.Errorf("item.ID = %q, want %q", item.ID, tt.wantID)
			}
		})
	}
}

func TestMemoryReplace_ConcurrentReaders(t *testing.T) {
	idx := NewMemory(testItems())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				neighbors, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3)
				if err != nil {
					t.Errorf("Search() error: %v", err)
					return
				}
				// A snapshot is all-or-nothing: 3 items before and after
				// a refresh, never a partial corpus.
				if len(neighbors) != 3 {
					t.Errorf("torn snapshot: %d items", len(neighbors))
					return
				}
			}
		}()
	}
	for range 50 {
		idx.Replace(testItems())
	}
	wg.Wait()
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}
