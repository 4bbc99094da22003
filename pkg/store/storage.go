package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

var (
	// ErrNotFound signals a typed absence (missing entity, document or
	// version). It is distinct from a validation failure.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported signals that the configured backend does not
	// implement the requested operation. Callers surface this as a
	// capability problem, never as an internal failure.
	ErrUnsupported = errors.New("operation unsupported for this backend")
)

// Direction selects which edges to follow when expanding a node.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Neighbor pairs an adjacent entity with the relation that connects it.
type Neighbor struct {
	Entity   common.Entity
	Relation common.Relation
}

// NeighborQuery filters a neighbor expansion.
type NeighborQuery struct {
	Direction     Direction
	RelationTypes []string
	EntityTypes   []common.EntityType
	// IncludeTombstoned keeps tombstoned endpoints in the result.
	IncludeTombstoned bool
}

// Capabilities reports what the configured backend can do. Handlers
// consult this once at the boundary instead of branching on the backend
// identity per call.
type Capabilities struct {
	Mutate   bool `json:"mutate"`
	Temporal bool `json:"temporal"`
	Vector   bool `json:"vector"`
	RawQuery bool `json:"raw_query"`
}

// GraphStore is the uniform read contract every backend provides. The
// richer pgx backend layers the optional interfaces below on top; the
// reduced snapshot backend stops here.
type GraphStore interface {
	GetNode(ctx context.Context, id string) (*common.Entity, error)
	GetNeighbors(ctx context.Context, id string, query NeighborQuery) ([]Neighbor, error)
	GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error)
	GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error)
	GetAllNodes(ctx context.Context) ([]common.Entity, error)
	GetStats(ctx context.Context) (*common.GraphStats, error)
	GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error)
	FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error)

	Capabilities() Capabilities
}

// MutableStore is implemented by backends that accept writes.
type MutableStore interface {
	SaveEntities(ctx context.Context, entities []common.Entity) error
	UpdateEntity(ctx context.Context, entity common.Entity) error
	TombstoneEntity(ctx context.Context, id string) error
	SaveRelations(ctx context.Context, relations []common.Relation) error
	DeleteRelation(ctx context.Context, id string) error
	GetAllRelations(ctx context.Context, includeInferred bool) ([]common.Relation, error)
}

// TemporalStore is implemented by backends that keep entity version
// history with validity windows.
type TemporalStore interface {
	GetEntityVersions(ctx context.Context, id string) ([]common.EntityVersion, error)
	GetVersionsActiveOn(ctx context.Context, date time.Time) ([]common.EntityVersion, error)
	GetVersionsInRange(ctx context.Context, start, end time.Time) ([]common.EntityVersion, error)
	AppendEntityVersion(ctx context.Context, version common.EntityVersion) error
}

// VectorStore exposes the embedding similarity search consumed by hybrid
// scoring. Embedding generation itself happens outside this service.
type VectorStore interface {
	SearchSimilarChunks(ctx context.Context, embedding []float32, limit int) ([]common.VectorChunk, error)
}

// DocumentStore keeps the document fingerprints change detection diffs
// against.
type DocumentStore interface {
	GetDocumentFingerprint(ctx context.Context, id string) (string, error)
	SaveDocumentFingerprint(ctx context.Context, id string, fingerprint string) error
	DeleteDocumentFingerprint(ctx context.Context, id string) error
}

// RawQueryStore executes an already validated query against the backing
// database. Validation and sandboxing happen in pkg/rawquery before the
// statement ever reaches this interface.
type RawQueryStore interface {
	ExecuteRawQuery(ctx context.Context, query string, params []any, limit int, timeout time.Duration) ([]map[string]any, error)
}

// Mutable returns the mutation surface of s, or ErrUnsupported when the
// backend is read-only.
func Mutable(s GraphStore) (MutableStore, error) {
	if m, ok := s.(MutableStore); ok && s.Capabilities().Mutate {
		return m, nil
	}
	return nil, fmt.Errorf("mutation: %w", ErrUnsupported)
}

// Temporal returns the version-history surface of s, or ErrUnsupported.
func Temporal(s GraphStore) (TemporalStore, error) {
	if t, ok := s.(TemporalStore); ok && s.Capabilities().Temporal {
		return t, nil
	}
	return nil, fmt.Errorf("temporal: %w", ErrUnsupported)
}

// Vector returns the similarity-search surface of s, or ErrUnsupported.
func Vector(s GraphStore) (VectorStore, error) {
	if v, ok := s.(VectorStore); ok && s.Capabilities().Vector {
		return v, nil
	}
	return nil, fmt.Errorf("vector search: %w", ErrUnsupported)
}

// RawQuery returns the pass-through query surface of s, or ErrUnsupported.
func RawQuery(s GraphStore) (RawQueryStore, error) {
	if r, ok := s.(RawQueryStore); ok && s.Capabilities().RawQuery {
		return r, nil
	}
	return nil, fmt.Errorf("raw query: %w", ErrUnsupported)
}

// Documents returns the fingerprint surface of s, or ErrUnsupported.
func Documents(s GraphStore) (DocumentStore, error) {
	if d, ok := s.(DocumentStore); ok && s.Capabilities().Mutate {
		return d, nil
	}
	return nil, fmt.Errorf("document fingerprints: %w", ErrUnsupported)
}
