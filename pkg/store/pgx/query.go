package pgx

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

// SearchSimilarChunks runs a cosine-distance search over the stored text
// chunk embeddings. The embedding itself comes from the external embedding
// collaborator; this store only scores against it.
func (s *GraphDBStore) SearchSimilarChunks(ctx context.Context, embedding []float32, limit int) ([]common.VectorChunk, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx,
		`SELECT id, content, 1 - (embedding <=> $1) AS score
		 FROM chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []common.VectorChunk
	for rows.Next() {
		var c common.VectorChunk
		if err := rows.Scan(&c.ID, &c.Text, &c.Score); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ExecuteRawQuery runs an already validated statement with a row cap and a
// statement timeout. pkg/rawquery performs validation and write gating
// before a query reaches this method.
func (s *GraphDBStore) ExecuteRawQuery(ctx context.Context, query string, params []any, limit int, timeout time.Duration) ([]map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := s.conn.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var results []map[string]any
	for rows.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, f := range fields {
			record[f.Name] = values[i]
		}
		results = append(results, record)
	}
	return results, rows.Err()
}
