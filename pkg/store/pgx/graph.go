package pgx

import (
	"context"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

// GetGraphSnapshot exports up to limit nodes plus the edges induced
// between them. Clustering and the meta-graph builder run on this.
func (s *GraphDBStore) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.conn.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE NOT tombstoned ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	nodes, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	edgeRows, err := s.conn.Query(ctx,
		`SELECT `+relationColumns+` FROM relations
		 WHERE source_id = ANY($1) AND target_id = ANY($1)
		 ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer edgeRows.Close()

	var edges []common.Relation
	for edgeRows.Next() {
		r, err := scanRelation(edgeRows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *r)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	return &common.GraphSnapshot{Nodes: nodes, Edges: edges}, nil
}

func (s *GraphDBStore) GetStats(ctx context.Context) (*common.GraphStats, error) {
	var stats common.GraphStats
	err := s.conn.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM entities WHERE NOT tombstoned),
			(SELECT count(*) FROM relations)`,
	).Scan(&stats.NodeCount, &stats.EdgeCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *GraphDBStore) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT type, count(*) FROM entities WHERE NOT tombstoned GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dist := make(map[common.EntityType]int)
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, err
		}
		dist[common.EntityType(entityType)] = count
	}
	return dist, rows.Err()
}
