package corpus

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a JSON corpus snapshot: an array of items with precomputed
// embeddings, as produced by the catalog indexing job. Used to seed the
// in-memory index when no database is configured.
func LoadFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing corpus file %s: %w", path, err)
	}

	for i, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("corpus file %s: item %d has no id", path, i)
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("corpus file %s: item %q has no embedding", path, item.ID)
		}
	}
	return items, nil
}
