package changes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// versionedFake layers entity version history on the mutable fake.
type versionedFake struct {
	*graphFake
	versions map[string][]common.EntityVersion
}

func newVersionedFake() *versionedFake {
	return &versionedFake{
		graphFake: newGraphFake(),
		versions:  make(map[string][]common.EntityVersion),
	}
}

func (s *versionedFake) Capabilities() store.Capabilities {
	return store.Capabilities{Mutate: true, Temporal: true}
}

func (s *versionedFake) GetEntityVersions(ctx context.Context, id string) ([]common.EntityVersion, error) {
	vs := s.versions[id]
	if len(vs) == 0 {
		return nil, store.ErrNotFound
	}
	return vs, nil
}

func (s *versionedFake) GetVersionsActiveOn(ctx context.Context, date time.Time) ([]common.EntityVersion, error) {
	return nil, nil
}

func (s *versionedFake) GetVersionsInRange(ctx context.Context, start, end time.Time) ([]common.EntityVersion, error) {
	return nil, nil
}

func (s *versionedFake) AppendEntityVersion(ctx context.Context, v common.EntityVersion) error {
	s.versions[v.EntityID] = append(s.versions[v.EntityID], v)
	return nil
}

func TestProcessChangeSet_AppliesAllKinds(t *testing.T) {
	s := newGraphFake()
	s.nodes["old"] = common.Entity{ID: "old", Type: common.EntityTypePolicy, Name: "old"}
	s.fingerprints["gone"] = "fp"

	cs := &common.ChangeSet{
		ID: "cs1",
		NewEntities: []common.Entity{
			{ID: "e1", Type: common.EntityTypePolicy, Name: "e1"},
		},
		DeletedEntityIDs: []string{"old"},
		NewRelations: []common.Relation{
			{SourceID: "e1", TargetID: "old", Type: "supersedes"},
		},
		DeletedRelationIDs: []string{"r-gone"},
		NewDocuments: []common.Document{
			{ID: "doc1", Title: "t", Content: "c"},
		},
		DeletedDocumentIDs: []string{"gone"},
	}

	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected no failures, got %d: %+v", result.Failed, result.Errors)
	}
	if result.Applied != 6 {
		t.Errorf("expected 6 applied items, got %d", result.Applied)
	}
	if _, ok := s.nodes["e1"]; !ok {
		t.Error("new entity was not saved")
	}
	if !s.nodes["old"].Tombstoned {
		t.Error("deleted entity must be tombstoned, not removed")
	}
	if len(s.savedRelations) != 1 {
		t.Errorf("expected one saved relation, got %d", len(s.savedRelations))
	}
	if len(s.deletedRels) != 1 || s.deletedRels[0] != "r-gone" {
		t.Errorf("expected relation r-gone deleted, got %v", s.deletedRels)
	}
	if _, ok := s.fingerprints["doc1"]; !ok {
		t.Error("new document fingerprint was not saved")
	}
	if _, ok := s.fingerprints["gone"]; ok {
		t.Error("deleted document fingerprint still present")
	}
	if result.RequiresManualReview {
		t.Error("nothing here needs review")
	}
}

func TestProcessChangeSet_RecordsVersionHistory(t *testing.T) {
	s := newVersionedFake()
	s.nodes["e2"] = common.Entity{ID: "e2", Type: common.EntityTypePolicy, Name: "old name"}
	s.versions["e2"] = []common.EntityVersion{{EntityID: "e2", Version: 1, State: s.nodes["e2"]}}
	s.nodes["e3"] = common.Entity{ID: "e3", Type: common.EntityTypePolicy, Name: "repealed act"}

	cs := &common.ChangeSet{
		ID:          "cs1",
		NewEntities: []common.Entity{{ID: "e1", Type: common.EntityTypePolicy, Name: "fresh"}},
		UpdatedEntities: []common.EntityChange{{
			After: common.Entity{ID: "e2", Type: common.EntityTypePolicy, Name: "new name"},
		}},
		DeletedEntityIDs: []string{"e3"},
	}

	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected no failures, got %+v", result.Errors)
	}

	created := s.versions["e1"]
	if len(created) != 1 || created[0].Version != 1 || created[0].State.Name != "fresh" {
		t.Errorf("expected version 1 for the created entity, got %+v", created)
	}
	history := s.versions["e2"]
	if len(history) != 2 {
		t.Fatalf("expected the update to grow the history, got %d versions", len(history))
	}
	if history[1].Version != 2 || history[1].State.Name != "new name" {
		t.Errorf("expected version 2 carrying the updated state, got %+v", history[1])
	}
	tomb := s.versions["e3"]
	if len(tomb) != 1 || !tomb[0].State.Tombstoned {
		t.Errorf("expected a tombstoned final version, got %+v", tomb)
	}
}

func TestProcessChangeSet_AssignsRelationIDs(t *testing.T) {
	s := newGraphFake()
	cs := &common.ChangeSet{
		ID: "cs1",
		NewRelations: []common.Relation{
			{SourceID: "a", TargetID: "b", Type: "amends"},
			{SourceID: "b", TargetID: "c", Type: "supersedes"},
		},
		UpdatedRelations: []common.Relation{
			{SourceID: "c", TargetID: "d", Type: "amends", Confidence: 0.9},
		},
	}

	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected no failures, got %+v", result.Errors)
	}
	if len(s.savedRelations) != 3 {
		t.Fatalf("expected 3 saved relations, got %d", len(s.savedRelations))
	}
	seen := make(map[string]bool)
	for _, r := range s.savedRelations {
		if r.ID == "" {
			t.Errorf("relation %s saved without an id", r.Key())
		}
		if seen[r.ID] {
			t.Errorf("duplicate relation id %q", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestProcessChangeSet_DryRunTouchesNothing(t *testing.T) {
	s := newGraphFake()
	cs := &common.ChangeSet{
		ID:          "cs1",
		NewEntities: []common.Entity{{ID: "e1", Type: common.EntityTypePolicy, Name: "e1"}},
	}

	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{DryRun: true})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("dry run still counts would-be applications, got %d", result.Applied)
	}
	if len(s.nodes) != 0 {
		t.Error("dry run must not write to the store")
	}
}

func TestProcessChangeSet_EntityConflictGoesToReview(t *testing.T) {
	s := newGraphFake()
	// Stored name differs from the Before snapshot: someone edited the
	// name concurrently, and the change also edits the name.
	s.nodes["e1"] = common.Entity{ID: "e1", Type: common.EntityTypePolicy, Name: "concurrent"}
	before := common.Entity{ID: "e1", Type: common.EntityTypePolicy, Name: "original"}

	cs := &common.ChangeSet{
		ID: "cs1",
		UpdatedEntities: []common.EntityChange{{
			Before: &before,
			After:  common.Entity{ID: "e1", Type: common.EntityTypePolicy, Name: "proposed"},
		}},
	}

	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if !result.RequiresManualReview || len(result.ReviewItems) != 1 {
		t.Fatalf("expected one review item, got %+v", result)
	}
	item := result.ReviewItems[0]
	if item.Kind != "entity-conflict" || item.ID != "e1" {
		t.Errorf("unexpected review item %+v", item)
	}
	if s.nodes["e1"].Name != "concurrent" {
		t.Error("a conflicting update must leave the stored entity untouched")
	}
}

func TestProcessChangeSet_DisjointEditsMerge(t *testing.T) {
	s := newGraphFake()
	// Concurrent edit touched the description; the change edits the name.
	s.nodes["e1"] = common.Entity{
		ID: "e1", Type: common.EntityTypePolicy,
		Name: "original", Description: "concurrent description",
	}
	before := common.Entity{ID: "e1", Type: common.EntityTypePolicy, Name: "original"}

	cs := &common.ChangeSet{
		ID: "cs1",
		UpdatedEntities: []common.EntityChange{{
			Before: &before,
			After:  common.Entity{ID: "e1", Type: common.EntityTypePolicy, Name: "proposed"},
		}},
	}

	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if result.RequiresManualReview {
		t.Fatalf("disjoint edits must merge automatically, got %+v", result.ReviewItems)
	}
	merged := s.nodes["e1"]
	if merged.Name != "proposed" {
		t.Errorf("expected the proposed name, got %q", merged.Name)
	}
	if merged.Description != "concurrent description" {
		t.Errorf("expected the concurrent description preserved, got %q", merged.Description)
	}
}

func TestProcessChangeSet_RelationConflicts(t *testing.T) {
	s := newGraphFake()
	tests := []struct {
		name     string
		relation common.Relation
		review   bool
	}{
		{"inferred update", common.Relation{SourceID: "a", TargetID: "b", Type: "t", Inferred: true}, true},
		{"low confidence", common.Relation{SourceID: "a", TargetID: "b", Type: "t", Confidence: 0.3}, true},
		{"high confidence", common.Relation{SourceID: "a", TargetID: "b", Type: "t", Confidence: 0.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := &common.ChangeSet{ID: "cs1", UpdatedRelations: []common.Relation{tt.relation}}
			result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
			if err != nil {
				t.Fatalf("ProcessChangeSet failed: %v", err)
			}
			if tt.review && len(result.ReviewItems) != 1 {
				t.Errorf("expected a review item, got %+v", result)
			}
			if !tt.review && (len(result.ReviewItems) != 0 || result.Applied != 1) {
				t.Errorf("expected a clean apply, got %+v", result)
			}
		})
	}
}

func TestProcessChangeSet_UpdateOfMissingEntityFails(t *testing.T) {
	s := newGraphFake()
	cs := &common.ChangeSet{
		ID: "cs1",
		UpdatedEntities: []common.EntityChange{{
			After: common.Entity{ID: "ghost", Type: common.EntityTypePolicy, Name: "g"},
		}},
	}
	result, err := NewUpdater(s).ProcessChangeSet(context.Background(), cs, ApplyOptions{})
	if err != nil {
		t.Fatalf("ProcessChangeSet failed: %v", err)
	}
	if result.Failed != 1 || len(result.Errors) != 1 {
		t.Errorf("expected the vanished entity recorded as a failure, got %+v", result)
	}
}

func TestProcessChangeSet_RequiresMutableStore(t *testing.T) {
	_, err := NewUpdater(bareStore{}).ProcessChangeSet(context.Background(), &common.ChangeSet{ID: "cs"}, ApplyOptions{})
	if !errors.Is(err, store.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestProcessChangeSet_ThresholdValidation(t *testing.T) {
	_, err := NewUpdater(newGraphFake()).ProcessChangeSet(context.Background(), &common.ChangeSet{ID: "cs"}, ApplyOptions{
		AutoResolveThreshold: 1.5,
	})
	var ve *common.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error, got %v", err)
	}
}
