package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStore is the rich Graph Store Adapter backend on PostgreSQL with
// pgvector. It supports every optional capability: mutation, temporal
// versioning, vector similarity and sandboxed raw queries.
type GraphDBStore struct {
	conn pgxIConn
}

// NewGraphDBStore creates a store on an existing connection or pool.
func NewGraphDBStore(conn pgxIConn) *GraphDBStore {
	return &GraphDBStore{conn: conn}
}

func (s *GraphDBStore) Capabilities() store.Capabilities {
	return store.Capabilities{
		Mutate:   true,
		Temporal: true,
		Vector:   true,
		RawQuery: true,
	}
}
