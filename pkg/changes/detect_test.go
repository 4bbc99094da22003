package changes

import (
	"context"
	"errors"
	"testing"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// graphFake is an in-memory mutable backend with document fingerprints,
// shared by the detection and application tests.
type graphFake struct {
	nodes        map[string]common.Entity
	relations    []common.Relation
	fingerprints map[string]string

	updatedEntities []common.Entity
	tombstoned      []string
	savedRelations  []common.Relation
	deletedRels     []string
}

func newGraphFake() *graphFake {
	return &graphFake{
		nodes:        make(map[string]common.Entity),
		fingerprints: make(map[string]string),
	}
}

func (s *graphFake) Capabilities() store.Capabilities {
	return store.Capabilities{Mutate: true}
}

func (s *graphFake) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *graphFake) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	matchesType := func(relType string) bool {
		if len(query.RelationTypes) == 0 {
			return true
		}
		for _, t := range query.RelationTypes {
			if t == relType {
				return true
			}
		}
		return false
	}
	var neighbors []store.Neighbor
	for _, r := range s.relations {
		if r.SourceID != id || !matchesType(r.Type) {
			continue
		}
		neighbors = append(neighbors, store.Neighbor{Entity: s.nodes[r.TargetID], Relation: r})
	}
	return neighbors, nil
}

func (s *graphFake) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	return &common.GraphSnapshot{}, nil
}

func (s *graphFake) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	return nil, nil
}

func (s *graphFake) GetAllNodes(ctx context.Context) ([]common.Entity, error) { return nil, nil }

func (s *graphFake) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{}, nil
}

func (s *graphFake) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	return nil, nil
}

func (s *graphFake) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	return nil, nil
}

func (s *graphFake) SaveEntities(ctx context.Context, entities []common.Entity) error {
	for _, e := range entities {
		s.nodes[e.ID] = e
	}
	return nil
}

func (s *graphFake) UpdateEntity(ctx context.Context, entity common.Entity) error {
	if _, ok := s.nodes[entity.ID]; !ok {
		return store.ErrNotFound
	}
	s.nodes[entity.ID] = entity
	s.updatedEntities = append(s.updatedEntities, entity)
	return nil
}

func (s *graphFake) TombstoneEntity(ctx context.Context, id string) error {
	n, ok := s.nodes[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Tombstoned = true
	s.nodes[id] = n
	s.tombstoned = append(s.tombstoned, id)
	return nil
}

func (s *graphFake) SaveRelations(ctx context.Context, relations []common.Relation) error {
	s.relations = append(s.relations, relations...)
	s.savedRelations = append(s.savedRelations, relations...)
	return nil
}

func (s *graphFake) DeleteRelation(ctx context.Context, id string) error {
	s.deletedRels = append(s.deletedRels, id)
	return nil
}

func (s *graphFake) GetAllRelations(ctx context.Context, includeInferred bool) ([]common.Relation, error) {
	return s.relations, nil
}

func (s *graphFake) GetDocumentFingerprint(ctx context.Context, id string) (string, error) {
	fp, ok := s.fingerprints[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return fp, nil
}

func (s *graphFake) SaveDocumentFingerprint(ctx context.Context, id string, fingerprint string) error {
	s.fingerprints[id] = fingerprint
	return nil
}

func (s *graphFake) DeleteDocumentFingerprint(ctx context.Context, id string) error {
	delete(s.fingerprints, id)
	return nil
}

func TestDetectDocumentChanges_NewDocument(t *testing.T) {
	s := newGraphFake()
	doc := common.Document{
		ID:      "doc1",
		Title:   "Clean Water Act",
		Content: "full text",
		Entities: []common.Entity{
			{ID: "cwa", Type: common.EntityTypeLegislation, Name: "Clean Water Act"},
		},
		Relations: []common.Relation{
			{SourceID: "cwa", TargetID: "epa", Type: "governed_by"},
		},
	}

	cs, err := NewDetector(s).DetectDocumentChanges(context.Background(), doc)
	if err != nil {
		t.Fatalf("DetectDocumentChanges failed: %v", err)
	}
	if len(cs.NewDocuments) != 1 {
		t.Errorf("expected the unknown document classified as new, got %+v", cs)
	}
	if len(cs.NewEntities) != 1 || cs.NewEntities[0].ID != "cwa" {
		t.Errorf("expected cwa as new entity, got %+v", cs.NewEntities)
	}
	if len(cs.NewRelations) != 1 {
		t.Errorf("expected one new relation, got %+v", cs.NewRelations)
	}
	if cs.DocumentsProcessed != 1 {
		t.Errorf("expected documentsProcessed 1, got %d", cs.DocumentsProcessed)
	}
}

func TestDetectDocumentChanges_UnchangedDocumentShortCircuits(t *testing.T) {
	s := newGraphFake()
	doc := common.Document{
		ID: "doc1", Title: "t", Content: "c",
		Entities: []common.Entity{{ID: "e1", Type: common.EntityTypePolicy, Name: "e1"}},
	}
	s.fingerprints["doc1"] = Fingerprint(doc)

	cs, err := NewDetector(s).DetectDocumentChanges(context.Background(), doc)
	if err != nil {
		t.Fatalf("DetectDocumentChanges failed: %v", err)
	}
	if !cs.Empty() {
		t.Errorf("unchanged document must produce an empty change set, got %+v", cs)
	}
}

func TestDetectDocumentChanges_UpdatedEntityCarriesBefore(t *testing.T) {
	s := newGraphFake()
	s.nodes["e1"] = common.Entity{ID: "e1", Type: common.EntityTypePolicy, Name: "old name"}
	s.fingerprints["doc1"] = "stale"

	doc := common.Document{
		ID: "doc1", Title: "t", Content: "changed",
		Entities: []common.Entity{{ID: "e1", Type: common.EntityTypePolicy, Name: "new name"}},
	}
	cs, err := NewDetector(s).DetectDocumentChanges(context.Background(), doc)
	if err != nil {
		t.Fatalf("DetectDocumentChanges failed: %v", err)
	}
	if len(cs.UpdatedDocuments) != 1 {
		t.Errorf("expected document classified as updated, got %+v", cs)
	}
	if len(cs.UpdatedEntities) != 1 {
		t.Fatalf("expected one updated entity, got %d", len(cs.UpdatedEntities))
	}
	change := cs.UpdatedEntities[0]
	if change.Before == nil || change.Before.Name != "old name" {
		t.Errorf("expected before snapshot with the stored name, got %+v", change.Before)
	}
	if change.After.Name != "new name" {
		t.Errorf("expected after state with the observed name, got %+v", change.After)
	}
}

func TestDetectDocumentChanges_RelationClassification(t *testing.T) {
	s := newGraphFake()
	s.nodes["a"] = common.Entity{ID: "a", Type: common.EntityTypePolicy, Name: "a"}
	s.nodes["b"] = common.Entity{ID: "b", Type: common.EntityTypePolicy, Name: "b"}
	s.relations = append(s.relations, common.Relation{
		SourceID: "a", TargetID: "b", Type: "supersedes", Confidence: 0.9,
	})
	s.fingerprints["doc1"] = "stale"

	doc := common.Document{
		ID: "doc1", Title: "t", Content: "c",
		Relations: []common.Relation{
			{SourceID: "a", TargetID: "b", Type: "supersedes", Confidence: 0.5},
			{SourceID: "b", TargetID: "a", Type: "amends"},
		},
	}
	cs, err := NewDetector(s).DetectDocumentChanges(context.Background(), doc)
	if err != nil {
		t.Fatalf("DetectDocumentChanges failed: %v", err)
	}
	if len(cs.UpdatedRelations) != 1 || cs.UpdatedRelations[0].Confidence != 0.5 {
		t.Errorf("expected the changed-confidence relation as updated, got %+v", cs.UpdatedRelations)
	}
	if len(cs.NewRelations) != 1 || cs.NewRelations[0].Type != "amends" {
		t.Errorf("expected the unknown relation as new, got %+v", cs.NewRelations)
	}
}

func TestDetectBatchChanges_FailureIsolation(t *testing.T) {
	s := newGraphFake()
	documents := []common.Document{
		{ID: "doc1", Title: "one", Content: "c"},
		// An unknown entity type fails this document alone.
		{ID: "doc2", Title: "two", Content: "c", Entities: []common.Entity{
			{ID: "x", Type: "meme", Name: "x"},
		}},
		{ID: "doc3", Title: "three", Content: "c"},
	}

	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			cs, err := NewDetector(s).DetectBatchChanges(context.Background(), documents, BatchOptions{
				EnableParallelProcessing: parallel,
				Parallelism:              2,
			})
			if err != nil {
				t.Fatalf("DetectBatchChanges failed: %v", err)
			}
			if cs.DocumentsProcessed != 3 {
				t.Errorf("documentsProcessed counts attempts, expected 3, got %d", cs.DocumentsProcessed)
			}
			if len(cs.Errors) != 1 || cs.Errors[0].DocumentID != "doc2" {
				t.Errorf("expected exactly the failing document recorded, got %+v", cs.Errors)
			}
			if len(cs.NewDocuments) != 2 {
				t.Errorf("expected the two healthy documents detected, got %d", len(cs.NewDocuments))
			}
		})
	}
}

func TestDetectBatchChanges_InvalidParallelism(t *testing.T) {
	_, err := NewDetector(newGraphFake()).DetectBatchChanges(context.Background(), nil, BatchOptions{
		Parallelism: MaxBatchParallelism + 1,
	})
	var ve *common.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDetectDocumentChanges_RequiresDocumentStore(t *testing.T) {
	_, err := NewDetector(bareStore{}).DetectDocumentChanges(context.Background(), common.Document{ID: "d"})
	if !errors.Is(err, store.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	base := common.Document{ID: "d", Title: "t", Content: "c", URI: "u"}
	same := common.Document{ID: "other", Title: "t", Content: "c", URI: "u"}
	if Fingerprint(base) != Fingerprint(same) {
		t.Error("fingerprint must depend on content, not the document id")
	}
	changed := base
	changed.Content = "c2"
	if Fingerprint(base) == Fingerprint(changed) {
		t.Error("changed content must change the fingerprint")
	}
}

// bareStore offers no capabilities.
type bareStore struct{}

func (bareStore) Capabilities() store.Capabilities { return store.Capabilities{} }
func (bareStore) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	return nil, store.ErrNotFound
}
func (bareStore) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	return nil, nil
}
func (bareStore) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	return &common.GraphSnapshot{}, nil
}
func (bareStore) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	return nil, nil
}
func (bareStore) GetAllNodes(ctx context.Context) ([]common.Entity, error) { return nil, nil }
func (bareStore) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{}, nil
}
func (bareStore) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	return nil, nil
}
func (bareStore) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	return nil, nil
}
