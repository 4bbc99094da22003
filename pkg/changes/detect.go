// Package changes diffs newly observed documents against the stored
// graph and applies the approved result. Detection produces immutable
// ChangeSets; application is atomic per change item.
package changes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

const (
	DefaultBatchParallelism = 4
	MaxBatchParallelism     = 16
)

// BatchOptions bounds batch change detection.
type BatchOptions struct {
	// EnableParallelProcessing fans document detection out over
	// Parallelism workers. Off means strictly sequential.
	EnableParallelProcessing bool
	Parallelism              int
}

func (o *BatchOptions) normalize() error {
	if o.Parallelism == 0 {
		o.Parallelism = DefaultBatchParallelism
	}
	if o.Parallelism < 1 || o.Parallelism > MaxBatchParallelism {
		return common.Invalid("parallelism", "must be between 1 and %d", MaxBatchParallelism)
	}
	return nil
}

// Detector diffs observed documents against stored fingerprints and
// graph state.
type Detector struct {
	store store.GraphStore
}

func NewDetector(s store.GraphStore) *Detector {
	return &Detector{store: s}
}

// Fingerprint hashes the change-relevant content of a document.
func Fingerprint(doc common.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Title))
	h.Write([]byte{0})
	h.Write([]byte(doc.Content))
	h.Write([]byte{0})
	h.Write([]byte(doc.URI))
	return hex.EncodeToString(h.Sum(nil))
}

// DetectDocumentChanges classifies one document against stored state at
// document, entity and relationship granularity.
func (d *Detector) DetectDocumentChanges(ctx context.Context, doc common.Document) (*common.ChangeSet, error) {
	start := time.Now()
	if doc.ID == "" {
		return nil, common.Invalid("document.id", "must not be empty")
	}

	docs, err := store.Documents(d.store)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate change set id: %w", err)
	}
	cs := &common.ChangeSet{ID: id, DocumentsProcessed: 1}

	fingerprint := Fingerprint(doc)
	stored, err := docs.GetDocumentFingerprint(ctx, doc.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cs.NewDocuments = append(cs.NewDocuments, doc)
	case err != nil:
		return nil, err
	case stored == fingerprint:
		cs.ProcessingTimeMs = time.Since(start).Milliseconds()
		return cs, nil
	default:
		cs.UpdatedDocuments = append(cs.UpdatedDocuments, doc)
	}

	if err := d.diffEntities(ctx, doc, cs); err != nil {
		return nil, err
	}
	if err := d.diffRelations(ctx, doc, cs); err != nil {
		return nil, err
	}

	cs.ProcessingTimeMs = time.Since(start).Milliseconds()
	return cs, nil
}

func (d *Detector) diffEntities(ctx context.Context, doc common.Document, cs *common.ChangeSet) error {
	for _, entity := range doc.Entities {
		if !common.ValidEntityType(entity.Type) {
			return common.Invalid("entity.type", "unknown entity type %q", entity.Type)
		}
		current, err := d.store.GetNode(ctx, entity.ID)
		if errors.Is(err, store.ErrNotFound) {
			cs.NewEntities = append(cs.NewEntities, entity)
			continue
		}
		if err != nil {
			return err
		}
		if entityEqual(*current, entity) {
			continue
		}
		cs.UpdatedEntities = append(cs.UpdatedEntities, common.EntityChange{
			Before: current,
			After:  entity,
		})
	}
	return nil
}

func (d *Detector) diffRelations(ctx context.Context, doc common.Document, cs *common.ChangeSet) error {
	for _, rel := range doc.Relations {
		neighbors, err := d.store.GetNeighbors(ctx, rel.SourceID, store.NeighborQuery{
			Direction:         store.DirectionOutgoing,
			RelationTypes:     []string{rel.Type},
			IncludeTombstoned: true,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		found := false
		for _, n := range neighbors {
			if n.Relation.TargetID != rel.TargetID {
				continue
			}
			found = true
			if !relationEqual(n.Relation, rel) {
				cs.UpdatedRelations = append(cs.UpdatedRelations, rel)
			}
			break
		}
		if !found {
			cs.NewRelations = append(cs.NewRelations, rel)
		}
	}
	return nil
}

// DetectBatchChanges runs detection over a document list. A failing
// document is recorded in Errors and never aborts the batch;
// DocumentsProcessed counts attempts.
func (d *Detector) DetectBatchChanges(ctx context.Context, documents []common.Document, opts BatchOptions) (*common.ChangeSet, error) {
	start := time.Now()
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate change set id: %w", err)
	}

	// Per-index slots keep workers free of shared mutable state.
	results := make([]*common.ChangeSet, len(documents))
	failures := make([]*common.ChangeError, len(documents))

	group, groupCtx := errgroup.WithContext(ctx)
	limit := 1
	if opts.EnableParallelProcessing {
		limit = opts.Parallelism
	}
	group.SetLimit(limit)

	for i := range documents {
		group.Go(func() error {
			cs, err := d.DetectDocumentChanges(groupCtx, documents[i])
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				failures[i] = &common.ChangeError{
					DocumentID: documents[i].ID,
					Message:    err.Error(),
				}
				return nil
			}
			results[i] = cs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	merged := &common.ChangeSet{ID: id, DocumentsProcessed: len(documents)}
	for i := range documents {
		if failures[i] != nil {
			merged.Errors = append(merged.Errors, *failures[i])
			continue
		}
		mergeChangeSet(merged, results[i])
	}
	merged.ProcessingTimeMs = time.Since(start).Milliseconds()
	return merged, nil
}

func mergeChangeSet(dst, src *common.ChangeSet) {
	dst.NewDocuments = append(dst.NewDocuments, src.NewDocuments...)
	dst.UpdatedDocuments = append(dst.UpdatedDocuments, src.UpdatedDocuments...)
	dst.DeletedDocumentIDs = append(dst.DeletedDocumentIDs, src.DeletedDocumentIDs...)
	dst.NewEntities = append(dst.NewEntities, src.NewEntities...)
	dst.UpdatedEntities = append(dst.UpdatedEntities, src.UpdatedEntities...)
	dst.DeletedEntityIDs = append(dst.DeletedEntityIDs, src.DeletedEntityIDs...)
	dst.NewRelations = append(dst.NewRelations, src.NewRelations...)
	dst.UpdatedRelations = append(dst.UpdatedRelations, src.UpdatedRelations...)
	dst.DeletedRelationIDs = append(dst.DeletedRelationIDs, src.DeletedRelationIDs...)
	dst.Errors = append(dst.Errors, src.Errors...)
}

func entityEqual(a, b common.Entity) bool {
	return a.Type == b.Type && a.Name == b.Name &&
		a.Description == b.Description && a.URI == b.URI &&
		a.Tombstoned == b.Tombstoned &&
		reflect.DeepEqual(a.Metadata, b.Metadata) &&
		reflect.DeepEqual(a.Hierarchy, b.Hierarchy)
}

func relationEqual(a, b common.Relation) bool {
	return a.Confidence == b.Confidence && a.Inferred == b.Inferred &&
		reflect.DeepEqual(a.Metadata, b.Metadata) &&
		timeEqual(a.ValidFrom, b.ValidFrom) && timeEqual(a.ValidTo, b.ValidTo)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
