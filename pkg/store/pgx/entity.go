package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

const entityColumns = `id, type, name, description, uri, metadata, hierarchy_level, parent_id, tombstoned`

func scanEntity(row pgxv5.Row) (*common.Entity, error) {
	var (
		e           common.Entity
		entityType  string
		description *string
		uri         *string
		metadata    []byte
		level       *int
		parentID    *string
	)
	err := row.Scan(&e.ID, &entityType, &e.Name, &description, &uri, &metadata, &level, &parentID, &e.Tombstoned)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	e.Type = common.EntityType(entityType)
	if description != nil {
		e.Description = *description
	}
	if uri != nil {
		e.URI = *uri
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entity metadata: %w", err)
		}
	}
	if level != nil {
		e.Hierarchy = &common.Hierarchy{Level: *level}
		if parentID != nil {
			e.Hierarchy.ParentID = *parentID
		}
	}
	return &e, nil
}

func collectEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	defer rows.Close()
	var entities []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// GetNode fetches a single entity by ID. Tombstoned entities are returned
// with the tombstone flag set so relation endpoints stay resolvable.
func (s *GraphDBStore) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	return scanEntity(row)
}

func (s *GraphDBStore) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE type = $1 AND NOT tombstoned ORDER BY id`,
		string(entityType))
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

func (s *GraphDBStore) GetAllNodes(ctx context.Context) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE NOT tombstoned ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

// FindNodesByName matches entity names case-insensitively, exact matches
// first, then prefix and substring matches.
func (s *GraphDBStore) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE NOT tombstoned AND name ILIKE '%' || $1 || '%'
		 ORDER BY (lower(name) = lower($1)) DESC, (name ILIKE $1 || '%') DESC, id
		 LIMIT $2`,
		name, limit)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

func encodeEntity(e common.Entity) (metadata []byte, level *int, parentID *string, err error) {
	if e.Metadata != nil {
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode entity metadata: %w", err)
		}
	}
	if e.Hierarchy != nil {
		level = &e.Hierarchy.Level
		if e.Hierarchy.ParentID != "" {
			parentID = &e.Hierarchy.ParentID
		}
	}
	return metadata, level, parentID, nil
}

// SaveEntities inserts a batch of entities. Existing IDs are updated in
// place, which keeps ingestion retries idempotent.
func (s *GraphDBStore) SaveEntities(ctx context.Context, entities []common.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		metadata, level, parentID, err := encodeEntity(e)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO entities (id, type, name, description, uri, metadata, hierarchy_level, parent_id, tombstoned)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
			 ON CONFLICT (id) DO UPDATE SET
				type = EXCLUDED.type,
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				uri = EXCLUDED.uri,
				metadata = EXCLUDED.metadata,
				hierarchy_level = EXCLUDED.hierarchy_level,
				parent_id = EXCLUDED.parent_id,
				tombstoned = false,
				updated_at = now()`,
			e.ID, string(e.Type), e.Name, e.Description, e.URI, metadata, level, parentID)
		if err != nil {
			return fmt.Errorf("failed to save entity %s: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *GraphDBStore) UpdateEntity(ctx context.Context, e common.Entity) error {
	metadata, level, parentID, err := encodeEntity(e)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx,
		`UPDATE entities SET
			type = $2, name = $3, description = $4, uri = $5, metadata = $6,
			hierarchy_level = $7, parent_id = $8, updated_at = now()
		 WHERE id = $1`,
		e.ID, string(e.Type), e.Name, e.Description, e.URI, metadata, level, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TombstoneEntity marks an entity as deleted without removing the row, so
// stored relationships keep valid endpoints.
func (s *GraphDBStore) TombstoneEntity(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE entities SET tombstoned = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
