package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/codecollection/bundlesearch/internal/log"
)

// searchTimeout bounds a single vector search query so a slow database cannot
// stall the whole request.
const searchTimeout = 10 * time.Second

// Store is a pgvector-backed Index sharing the catalog database. The
// corpus_items table is populated through Upsert, either from a seed file at
// startup or by the catalog sync job; searches rely on PostgreSQL snapshot
// isolation for refresh consistency.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store backed by the given connection pool.
// The pool must have pgvector types registered (see app.Setup).
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Upsert writes items into corpus_items, replacing any existing rows with the
// same ID. Used by seeding and the catalog sync job.
func (s *Store) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		metaJSON, err := json.Marshal(item.Meta)
		if err != nil {
			return fmt.Errorf("encoding metadata for %q: %w", item.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO corpus_items (id, document, metadata, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET document = EXCLUDED.document,
			    metadata = EXCLUDED.metadata,
			    embedding = EXCLUDED.embedding`,
			item.ID, item.Document, metaJSON, pgvector.NewVector(item.Embedding))
		if err != nil {
			return fmt.Errorf("upserting %q: %w", item.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	s.logger.Info("corpus items upserted", "count", len(items))
	return nil
}

// Search runs an index-native top-k query using pgvector cosine distance.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	// embedding <=> $1 is cosine distance; similarity = 1 - distance.
	rows, err := s.pool.Query(queryCtx, `
		SELECT id, document, metadata, 1 - (embedding <=> $1) AS similarity
		FROM corpus_items
		ORDER BY embedding <=> $1, inserted_at
		LIMIT $2`,
		pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var (
			n        Neighbor
			metaJSON []byte
		)
		if err := rows.Scan(&n.Item.ID, &n.Item.Document, &metaJSON, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &n.Item.Meta); err != nil {
			s.logger.Warn("unparseable corpus metadata", "id", n.Item.ID, "error", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return neighbors, nil
}

// Lookup fetches one item by ID or display name, case-insensitive.
func (s *Store) Lookup(ctx context.Context, key string) (Item, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var (
		item     Item
		metaJSON []byte
	)
	err := s.pool.QueryRow(queryCtx, `
		SELECT id, document, metadata
		FROM corpus_items
		WHERE lower(id) = lower($1) OR lower(metadata->>'name') = lower($1)
		LIMIT 1`,
		key).Scan(&item.ID, &item.Document, &metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, false, nil
		}
		return Item{}, false, fmt.Errorf("corpus lookup %q: %w", key, err)
	}
	if err := json.Unmarshal(metaJSON, &item.Meta); err != nil {
		s.logger.Warn("unparseable corpus metadata", "id", item.ID, "error", err)
	}
	return item, true, nil
}
