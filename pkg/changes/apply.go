package changes

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/logger"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// DefaultAutoResolveThreshold gates relation conflicts: below it a
// conflicting update goes to manual review instead of being applied.
const DefaultAutoResolveThreshold = 0.8

// ApplyOptions configures change set application.
type ApplyOptions struct {
	AutoResolveThreshold float64
	// DryRun runs full conflict analysis without touching the store.
	DryRun bool
}

func (o *ApplyOptions) normalize() error {
	if o.AutoResolveThreshold == 0 {
		o.AutoResolveThreshold = DefaultAutoResolveThreshold
	}
	if o.AutoResolveThreshold < 0 || o.AutoResolveThreshold > 1 {
		return common.Invalid("autoResolveThreshold", "must be in [0, 1]")
	}
	return nil
}

// ReviewItem is one conflict flagged for a human decision.
type ReviewItem struct {
	Kind     string         `json:"kind"`
	ID       string         `json:"id"`
	Reason   string         `json:"reason"`
	Current  *common.Entity `json:"current,omitempty"`
	Proposed *common.Entity `json:"proposed,omitempty"`
}

// ApplyResult reports per-item application outcomes. Every change item
// lands in exactly one of Applied, Errors or ReviewItems.
type ApplyResult struct {
	ChangeSetID          string               `json:"change_set_id"`
	Applied              int                  `json:"applied"`
	Failed               int                  `json:"failed"`
	Errors               []common.ChangeError `json:"errors,omitempty"`
	RequiresManualReview bool                 `json:"requires_manual_review"`
	ReviewItems          []ReviewItem         `json:"review_items,omitempty"`
}

// Updater applies change sets to a mutation-capable store.
type Updater struct {
	store store.GraphStore
}

func NewUpdater(s store.GraphStore) *Updater {
	return &Updater{store: s}
}

// ProcessChangeSet applies a detected change set item by item. Each item
// is either applied, recorded as an error, or flagged for review; a
// failing item never blocks the rest.
func (u *Updater) ProcessChangeSet(ctx context.Context, cs *common.ChangeSet, opts ApplyOptions) (*ApplyResult, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	mutable, err := store.Mutable(u.store)
	if err != nil {
		return nil, err
	}
	docs, err := store.Documents(u.store)
	if err != nil {
		return nil, err
	}
	// Version history is capability-gated: a mutable backend without
	// temporal support applies changes but records no history.
	temporal, _ := store.Temporal(u.store)
	now := time.Now().UTC()

	result := &ApplyResult{ChangeSetID: cs.ID}
	apply := func(kind, id string, fn func() error) {
		if opts.DryRun {
			result.Applied++
			return
		}
		if err := fn(); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, common.ChangeError{
				DocumentID: id,
				Message:    fmt.Sprintf("%s: %v", kind, err),
			})
			logger.Error("change item failed", "changeSet", cs.ID, "kind", kind, "id", id, "error", err)
			return
		}
		result.Applied++
		logger.Debug("change item applied", "changeSet", cs.ID, "kind", kind, "id", id)
	}

	for _, entity := range cs.NewEntities {
		apply("new-entity", entity.ID, func() error {
			if err := mutable.SaveEntities(ctx, []common.Entity{entity}); err != nil {
				return err
			}
			return u.recordVersion(ctx, temporal, entity, now)
		})
	}

	for _, change := range cs.UpdatedEntities {
		u.applyEntityUpdate(ctx, mutable, temporal, change, opts, result, now)
	}

	for _, id := range cs.DeletedEntityIDs {
		apply("delete-entity", id, func() error {
			current, err := u.store.GetNode(ctx, id)
			if err != nil {
				return err
			}
			if err := mutable.TombstoneEntity(ctx, id); err != nil {
				return err
			}
			state := *current
			state.Tombstoned = true
			return u.recordVersion(ctx, temporal, state, now)
		})
	}

	for _, rel := range cs.NewRelations {
		apply("new-relation", rel.Key(), func() error {
			if err := ensureRelationID(&rel); err != nil {
				return err
			}
			return mutable.SaveRelations(ctx, []common.Relation{rel})
		})
	}

	for _, rel := range cs.UpdatedRelations {
		u.applyRelationUpdate(ctx, mutable, rel, opts, result, apply)
	}

	for _, id := range cs.DeletedRelationIDs {
		apply("delete-relation", id, func() error {
			return mutable.DeleteRelation(ctx, id)
		})
	}

	for _, doc := range cs.NewDocuments {
		apply("new-document", doc.ID, func() error {
			return docs.SaveDocumentFingerprint(ctx, doc.ID, Fingerprint(doc))
		})
	}
	for _, doc := range cs.UpdatedDocuments {
		apply("update-document", doc.ID, func() error {
			return docs.SaveDocumentFingerprint(ctx, doc.ID, Fingerprint(doc))
		})
	}
	for _, id := range cs.DeletedDocumentIDs {
		apply("delete-document", id, func() error {
			return docs.DeleteDocumentFingerprint(ctx, id)
		})
	}

	result.RequiresManualReview = len(result.ReviewItems) > 0
	return result, nil
}

// applyEntityUpdate detects concurrent edits by comparing the stored
// state against the change's Before snapshot. Non-overlapping edits are
// merged automatically; overlapping edits go to manual review.
func (u *Updater) applyEntityUpdate(ctx context.Context, mutable store.MutableStore, temporal store.TemporalStore, change common.EntityChange, opts ApplyOptions, result *ApplyResult, now time.Time) {
	current, err := u.store.GetNode(ctx, change.After.ID)
	if errors.Is(err, store.ErrNotFound) {
		result.Failed++
		result.Errors = append(result.Errors, common.ChangeError{
			DocumentID: change.After.ID,
			Message:    "update-entity: entity no longer exists",
		})
		return
	}
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, common.ChangeError{
			DocumentID: change.After.ID,
			Message:    fmt.Sprintf("update-entity: %v", err),
		})
		return
	}

	final := change.After
	if change.Before != nil && !entityEqual(*current, *change.Before) {
		concurrent := diffEntityFields(*change.Before, *current)
		proposed := diffEntityFields(*change.Before, change.After)
		if overlap(concurrent, proposed) {
			result.ReviewItems = append(result.ReviewItems, ReviewItem{
				Kind:     "entity-conflict",
				ID:       change.After.ID,
				Reason:   fmt.Sprintf("concurrent edit to %v", intersect(concurrent, proposed)),
				Current:  current,
				Proposed: &change.After,
			})
			logger.Warn("entity conflict flagged for review", "id", change.After.ID)
			return
		}
		// Disjoint edits: rebase the proposed fields onto current state.
		final = mergeEntity(*current, change.After, proposed)
	}

	if opts.DryRun {
		result.Applied++
		return
	}
	if err := mutable.UpdateEntity(ctx, final); err != nil {
		result.Failed++
		result.Errors = append(result.Errors, common.ChangeError{
			DocumentID: change.After.ID,
			Message:    fmt.Sprintf("update-entity: %v", err),
		})
		return
	}
	if err := u.recordVersion(ctx, temporal, final, now); err != nil {
		result.Failed++
		result.Errors = append(result.Errors, common.ChangeError{
			DocumentID: change.After.ID,
			Message:    fmt.Sprintf("update-entity: %v", err),
		})
		return
	}
	result.Applied++
}

// recordVersion appends the entity's new state to its version history.
// The previous open validity window closes at the new version's
// ValidFrom inside the store.
func (u *Updater) recordVersion(ctx context.Context, temporal store.TemporalStore, state common.Entity, now time.Time) error {
	if temporal == nil {
		return nil
	}
	next := 1
	versions, err := temporal.GetEntityVersions(ctx, state.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if n := len(versions); n > 0 {
		next = versions[n-1].Version + 1
	}
	return temporal.AppendEntityVersion(ctx, common.EntityVersion{
		EntityID:  state.ID,
		Version:   next,
		ValidFrom: now,
		State:     state,
	})
}

// ensureRelationID assigns a fresh id to extraction output, which
// arrives keyed only by its (source, type, target) triple.
func ensureRelationID(rel *common.Relation) error {
	if rel.ID != "" {
		return nil
	}
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	rel.ID = id
	return nil
}

// applyRelationUpdate keeps explicit relations authoritative: an
// inferred or low-confidence update over an explicit edge goes to
// review instead of silently overwriting it.
func (u *Updater) applyRelationUpdate(ctx context.Context, mutable store.MutableStore, rel common.Relation, opts ApplyOptions, result *ApplyResult, apply func(kind, id string, fn func() error)) {
	if rel.Inferred || (rel.Confidence > 0 && rel.Confidence < opts.AutoResolveThreshold) {
		result.ReviewItems = append(result.ReviewItems, ReviewItem{
			Kind:   "relation-conflict",
			ID:     rel.Key(),
			Reason: fmt.Sprintf("confidence %.2f below auto-resolve threshold %.2f", rel.Confidence, opts.AutoResolveThreshold),
		})
		return
	}
	apply("update-relation", rel.Key(), func() error {
		if err := ensureRelationID(&rel); err != nil {
			return err
		}
		return mutable.SaveRelations(ctx, []common.Relation{rel})
	})
}

// diffEntityFields lists the named fields that differ between a and b.
func diffEntityFields(a, b common.Entity) []string {
	var fields []string
	if a.Type != b.Type {
		fields = append(fields, "type")
	}
	if a.Name != b.Name {
		fields = append(fields, "name")
	}
	if a.Description != b.Description {
		fields = append(fields, "description")
	}
	if a.URI != b.URI {
		fields = append(fields, "uri")
	}
	if !entityEqual(common.Entity{Metadata: a.Metadata}, common.Entity{Metadata: b.Metadata}) {
		fields = append(fields, "metadata")
	}
	if !entityEqual(common.Entity{Hierarchy: a.Hierarchy}, common.Entity{Hierarchy: b.Hierarchy}) {
		fields = append(fields, "hierarchy")
	}
	if a.Tombstoned != b.Tombstoned {
		fields = append(fields, "tombstoned")
	}
	return fields
}

func overlap(a, b []string) bool {
	return len(intersect(a, b)) > 0
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	var out []string
	for _, f := range b {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// mergeEntity rebases the proposed field changes onto the current
// state, keeping concurrent edits to other fields.
func mergeEntity(current, after common.Entity, proposedFields []string) common.Entity {
	merged := current
	for _, field := range proposedFields {
		switch field {
		case "type":
			merged.Type = after.Type
		case "name":
			merged.Name = after.Name
		case "description":
			merged.Description = after.Description
		case "uri":
			merged.URI = after.URI
		case "metadata":
			merged.Metadata = after.Metadata
		case "hierarchy":
			merged.Hierarchy = after.Hierarchy
		case "tombstoned":
			merged.Tombstoned = after.Tombstoned
		}
	}
	return merged
}
