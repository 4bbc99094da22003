package pgx

import (
	"context"
	"errors"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// GetDocumentFingerprint returns the stored content hash for a document,
// or ErrNotFound when the document has never been observed.
func (s *GraphDBStore) GetDocumentFingerprint(ctx context.Context, id string) (string, error) {
	var fingerprint string
	err := s.conn.QueryRow(ctx,
		`SELECT fingerprint FROM documents WHERE id = $1`, id).Scan(&fingerprint)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return fingerprint, nil
}

func (s *GraphDBStore) SaveDocumentFingerprint(ctx context.Context, id string, fingerprint string) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO documents (id, fingerprint)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET fingerprint = EXCLUDED.fingerprint, updated_at = now()`,
		id, fingerprint)
	return err
}

func (s *GraphDBStore) DeleteDocumentFingerprint(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
