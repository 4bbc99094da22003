package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

const relationColumns = `id, source_id, target_id, type, metadata, confidence, inferred, valid_from, valid_to`

func scanRelation(rows pgxv5.Rows) (*common.Relation, error) {
	var (
		r          common.Relation
		metadata   []byte
		confidence *float64
		validFrom  *time.Time
		validTo    *time.Time
	)
	err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &metadata, &confidence, &r.Inferred, &validFrom, &validTo)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode relation metadata: %w", err)
		}
	}
	if confidence != nil {
		r.Confidence = *confidence
	}
	r.ValidFrom = validFrom
	r.ValidTo = validTo
	return &r, nil
}

// GetNeighbors expands one node, honoring direction, relation-type and
// entity-type filters. Tombstoned neighbors are skipped unless requested.
func (s *GraphDBStore) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	direction := query.Direction
	if direction == "" {
		direction = store.DirectionBoth
	}

	sql := `SELECT r.id, r.source_id, r.target_id, r.type, r.metadata, r.confidence, r.inferred, r.valid_from, r.valid_to,
			e.id, e.type, e.name, e.description, e.uri, e.metadata, e.hierarchy_level, e.parent_id, e.tombstoned
		FROM relations r
		JOIN entities e ON e.id = CASE WHEN r.source_id = $1 THEN r.target_id ELSE r.source_id END
		WHERE `
	switch direction {
	case store.DirectionOutgoing:
		sql += `r.source_id = $1`
	case store.DirectionIncoming:
		sql += `r.target_id = $1`
	default:
		sql += `(r.source_id = $1 OR r.target_id = $1)`
	}

	args := []any{id}
	if len(query.RelationTypes) > 0 {
		args = append(args, query.RelationTypes)
		sql += fmt.Sprintf(` AND r.type = ANY($%d)`, len(args))
	}
	if len(query.EntityTypes) > 0 {
		types := make([]string, len(query.EntityTypes))
		for i, t := range query.EntityTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		sql += fmt.Sprintf(` AND e.type = ANY($%d)`, len(args))
	}
	if !query.IncludeTombstoned {
		sql += ` AND NOT e.tombstoned`
	}
	sql += ` ORDER BY r.id`

	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var neighbors []store.Neighbor
	for rows.Next() {
		var (
			r          common.Relation
			e          common.Entity
			rMetadata  []byte
			confidence *float64
			validFrom  *time.Time
			validTo    *time.Time
			entityType string
			desc       *string
			uri        *string
			eMetadata  []byte
			level      *int
			parentID   *string
		)
		err := rows.Scan(
			&r.ID, &r.SourceID, &r.TargetID, &r.Type, &rMetadata, &confidence, &r.Inferred, &validFrom, &validTo,
			&e.ID, &entityType, &e.Name, &desc, &uri, &eMetadata, &level, &parentID, &e.Tombstoned,
		)
		if err != nil {
			return nil, err
		}
		if len(rMetadata) > 0 {
			if err := json.Unmarshal(rMetadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode relation metadata: %w", err)
			}
		}
		if confidence != nil {
			r.Confidence = *confidence
		}
		r.ValidFrom = validFrom
		r.ValidTo = validTo
		e.Type = common.EntityType(entityType)
		if desc != nil {
			e.Description = *desc
		}
		if uri != nil {
			e.URI = *uri
		}
		if len(eMetadata) > 0 {
			if err := json.Unmarshal(eMetadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode entity metadata: %w", err)
			}
		}
		if level != nil {
			e.Hierarchy = &common.Hierarchy{Level: *level}
			if parentID != nil {
				e.Hierarchy.ParentID = *parentID
			}
		}
		neighbors = append(neighbors, store.Neighbor{Entity: e, Relation: r})
	}
	return neighbors, rows.Err()
}

func (s *GraphDBStore) GetAllRelations(ctx context.Context, includeInferred bool) ([]common.Relation, error) {
	sql := `SELECT ` + relationColumns + ` FROM relations`
	if !includeInferred {
		sql += ` WHERE NOT inferred`
	}
	sql += ` ORDER BY id`
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []common.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		relations = append(relations, *r)
	}
	return relations, rows.Err()
}

// SaveRelations inserts relations. Both endpoints must already exist
// (enforced by foreign keys). Duplicate (source, type, target, inferred)
// tuples are ignored so inference re-runs stay idempotent.
func (s *GraphDBStore) SaveRelations(ctx context.Context, relations []common.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range relations {
		var metadata []byte
		if r.Metadata != nil {
			metadata, err = json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode relation metadata: %w", err)
			}
		}
		var confidence *float64
		if r.Confidence > 0 {
			confidence = &r.Confidence
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO relations (id, source_id, target_id, type, metadata, confidence, inferred, valid_from, valid_to)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (source_id, type, target_id, inferred) DO NOTHING`,
			r.ID, r.SourceID, r.TargetID, r.Type, metadata, confidence, r.Inferred, r.ValidFrom, r.ValidTo)
		if err != nil {
			return fmt.Errorf("failed to save relation %s -> %s: %w", r.SourceID, r.TargetID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *GraphDBStore) DeleteRelation(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM relations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
