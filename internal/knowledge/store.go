// Package knowledge is the semantic retriever: vector similarity search over
// the documents table (PostgreSQL + pgvector) using an AI embedder for query
// embedding. Chunking and ingestion happen upstream; this store only reads.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/shoptalk/shoptalk/internal/log"
)

// SearchParams carries the query embedding and result bound for a vector
// search.
type SearchParams struct {
	Embedding *pgvector.Vector
	Limit     int32
}

// SearchRow is one row returned by a vector search, ordered by similarity.
type SearchRow struct {
	ID         string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float32
}

// Querier defines the database operations the store needs. Interfaces are
// defined by the consumer; the pgx implementation lives in queries.go and
// tests substitute a mock.
type Querier interface {
	SearchDocuments(ctx context.Context, arg SearchParams) ([]SearchRow, error)
}

// Store performs semantic search over stored document chunks.
// Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a semantic retriever.
func New(querier Querier, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{queries: querier, embedder: embedder, logger: logger}
}

// Search embeds the query and returns the most similar chunks, ordered by
// similarity. Hits below the similarity floor are dropped; no match yields
// an empty slice and a nil error.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	embeddingResp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(query)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(embeddingResp.Embeddings) == 0 || len(embeddingResp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned for query")
	}
	queryEmbedding := pgvector.NewVector(embeddingResp.Embeddings[0].Embedding)

	rows, err := s.queries.SearchDocuments(ctx, SearchParams{
		Embedding: &queryEmbedding,
		Limit:     cfg.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		if row.Similarity < cfg.minScore {
			// Rows arrive ordered by similarity; everything after the
			// first miss is below the floor too.
			break
		}
		results = append(results, Result{
			Document: Document{
				ID:        row.ID,
				Content:   row.Content,
				Metadata:  s.parseMetadata(row.ID, row.Metadata),
				CreatedAt: row.CreatedAt.Time,
			},
			Similarity: row.Similarity,
		})
	}

	s.logger.Debug("semantic search complete",
		"hits", len(results), "dropped", len(rows)-len(results), "top_k", cfg.topK)
	return results, nil
}

func (s *Store) parseMetadata(id string, raw []byte) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	var metadata map[string]string
	if err := json.Unmarshal(raw, &metadata); err != nil {
		s.logger.Warn("parsing document metadata", "document_id", id, "error", err)
		return map[string]string{}
	}
	return metadata
}
