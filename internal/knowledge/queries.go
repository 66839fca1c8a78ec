package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// searchDocumentsSQL orders by cosine distance, then creation time, then id
// so equal-distance rows come back in a stable order.
const searchDocumentsSQL = `
SELECT id, content, metadata, created_at,
       (1 - (embedding <=> $1))::float4 AS similarity
FROM documents
ORDER BY embedding <=> $1, created_at, id
LIMIT $2`

// PgxQuerier implements Querier against PostgreSQL + pgvector.
type PgxQuerier struct {
	pool *pgxpool.Pool
}

// NewPgxQuerier wraps a connection pool.
func NewPgxQuerier(pool *pgxpool.Pool) *PgxQuerier {
	return &PgxQuerier{pool: pool}
}

func (q *PgxQuerier) SearchDocuments(ctx context.Context, arg SearchParams) ([]SearchRow, error) {
	rows, err := q.pool.Query(ctx, searchDocumentsSQL, arg.Embedding, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return out, nil
}
