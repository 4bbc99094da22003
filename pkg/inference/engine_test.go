package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// mutableFake is an in-memory graph backend with mutation support.
// SaveRelations appends, so a second Run sees what the first persisted.
type mutableFake struct {
	nodes     map[string]common.Entity
	relations []common.Relation
	updated   []common.Entity
}

func newMutableFake() *mutableFake {
	return &mutableFake{nodes: make(map[string]common.Entity)}
}

func (s *mutableFake) addNode(e common.Entity) { s.nodes[e.ID] = e }

func (s *mutableFake) addRelation(source, target, relType string, confidence float64) {
	s.relations = append(s.relations, common.Relation{
		ID:         source + "-" + relType + "-" + target,
		SourceID:   source,
		TargetID:   target,
		Type:       relType,
		Confidence: confidence,
	})
}

func (s *mutableFake) Capabilities() store.Capabilities {
	return store.Capabilities{Mutate: true}
}

func (s *mutableFake) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *mutableFake) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	return nil, nil
}

func (s *mutableFake) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	return &common.GraphSnapshot{}, nil
}

func (s *mutableFake) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	return nil, nil
}

func (s *mutableFake) GetAllNodes(ctx context.Context) ([]common.Entity, error) {
	nodes := make([]common.Entity, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *mutableFake) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{NodeCount: len(s.nodes), EdgeCount: len(s.relations)}, nil
}

func (s *mutableFake) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	return nil, nil
}

func (s *mutableFake) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	return nil, nil
}

func (s *mutableFake) SaveEntities(ctx context.Context, entities []common.Entity) error {
	for _, e := range entities {
		s.nodes[e.ID] = e
	}
	return nil
}

func (s *mutableFake) UpdateEntity(ctx context.Context, entity common.Entity) error {
	s.nodes[entity.ID] = entity
	s.updated = append(s.updated, entity)
	return nil
}

func (s *mutableFake) TombstoneEntity(ctx context.Context, id string) error {
	n := s.nodes[id]
	n.Tombstoned = true
	s.nodes[id] = n
	return nil
}

func (s *mutableFake) SaveRelations(ctx context.Context, relations []common.Relation) error {
	s.relations = append(s.relations, relations...)
	return nil
}

func (s *mutableFake) DeleteRelation(ctx context.Context, id string) error {
	kept := s.relations[:0]
	for _, r := range s.relations {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.relations = kept
	return nil
}

func (s *mutableFake) GetAllRelations(ctx context.Context, includeInferred bool) ([]common.Relation, error) {
	if includeInferred {
		return append([]common.Relation(nil), s.relations...), nil
	}
	var explicit []common.Relation
	for _, r := range s.relations {
		if !r.Inferred {
			explicit = append(explicit, r)
		}
	}
	return explicit, nil
}

func jurisdiction(id, parentID string) common.Entity {
	e := common.Entity{ID: id, Type: common.EntityTypeJurisdiction, Name: id}
	if parentID != "" {
		e.Hierarchy = &common.Hierarchy{Level: 1, ParentID: parentID}
	}
	return e
}

func TestRun_TransitiveChain(t *testing.T) {
	s := newMutableFake()
	for _, id := range []string{"A", "B", "C"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.addRelation("A", "B", "part_of", 0)
	s.addRelation("B", "C", "part_of", 0)

	result, err := New(s).Run(context.Background(), Options{
		RuleTypes:    []RuleType{RuleTransitive},
		StoreResults: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.RelationshipsInferred != 1 {
		t.Fatalf("expected exactly 1 inferred relation, got %d", result.RelationshipsInferred)
	}
	inferred := result.Relations[0]
	if inferred.SourceID != "A" || inferred.TargetID != "C" || inferred.Type != "part_of" {
		t.Errorf("expected A -part_of-> C, got %s -%s-> %s", inferred.SourceID, inferred.Type, inferred.TargetID)
	}
	if !inferred.Inferred {
		t.Error("derived relation must carry the inferred flag")
	}
	if inferred.Confidence != DecayFactor {
		t.Errorf("unset premise confidences decay from 1 to %v, got %v", DecayFactor, inferred.Confidence)
	}
	if inferred.Metadata["rule"] != string(RuleTransitive) {
		t.Errorf("expected rule metadata, got %v", inferred.Metadata)
	}
	if inferred.ID == "" {
		t.Error("persisted relation needs an id")
	}
}

func TestRun_Idempotent(t *testing.T) {
	s := newMutableFake()
	for _, id := range []string{"A", "B", "C"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.addRelation("A", "B", "part_of", 0)
	s.addRelation("B", "C", "part_of", 0)
	engine := New(s)
	opts := Options{RuleTypes: []RuleType{RuleTransitive}, StoreResults: true}

	first, err := engine.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.RelationshipsInferred != 1 {
		t.Fatalf("expected 1 inferred relation, got %d", first.RelationshipsInferred)
	}

	second, err := engine.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.RelationshipsInferred != 0 {
		t.Errorf("rerun over unchanged state must derive nothing, got %d", second.RelationshipsInferred)
	}
	if len(s.relations) != 3 {
		t.Errorf("expected 3 stored relations after both runs, got %d", len(s.relations))
	}
}

func TestRun_ConfidenceDecaysBelowWeakestPremise(t *testing.T) {
	s := newMutableFake()
	for _, id := range []string{"A", "B", "C"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.addRelation("A", "B", "located_in", 0.9)
	s.addRelation("B", "C", "located_in", 0.5)

	result, err := New(s).Run(context.Background(), Options{RuleTypes: []RuleType{RuleTransitive}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 1 {
		t.Fatalf("expected 1 inferred relation, got %d", result.RelationshipsInferred)
	}
	got := result.Relations[0].Confidence
	want := DecayFactor * 0.5
	if got != want {
		t.Errorf("expected confidence %v (decayed weakest premise), got %v", want, got)
	}
	if got >= 0.5 {
		t.Error("derived confidence must fall below the weakest premise")
	}
}

func TestRun_MinConfidenceFilter(t *testing.T) {
	s := newMutableFake()
	for _, id := range []string{"A", "B", "C"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.addRelation("A", "B", "part_of", 0.5)
	s.addRelation("B", "C", "part_of", 0.5)

	result, err := New(s).Run(context.Background(), Options{
		RuleTypes:     []RuleType{RuleTransitive},
		MinConfidence: 0.5,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 0 {
		t.Errorf("derived confidence 0.4 sits below the 0.5 floor, got %d inferred", result.RelationshipsInferred)
	}
}

func TestRun_ExplicitEdgeBlocksInference(t *testing.T) {
	s := newMutableFake()
	for _, id := range []string{"A", "B", "C"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.addRelation("A", "B", "part_of", 0)
	s.addRelation("B", "C", "part_of", 0)
	// The conclusion already exists as an explicit edge.
	s.addRelation("A", "C", "part_of", 0)

	result, err := New(s).Run(context.Background(), Options{RuleTypes: []RuleType{RuleTransitive}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 0 {
		t.Errorf("explicit edges must never be shadowed by inferred ones, got %d", result.RelationshipsInferred)
	}
}

func TestRun_HierarchicalPushesJurisdictionDown(t *testing.T) {
	s := newMutableFake()
	s.addNode(common.Entity{ID: "reg", Type: common.EntityTypeRegulation, Name: "reg"})
	s.addNode(jurisdiction("state", ""))
	s.addNode(jurisdiction("county", "state"))
	s.addRelation("reg", "state", "applies_in", 0)

	result, err := New(s).Run(context.Background(), Options{RuleTypes: []RuleType{RuleHierarchical}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 1 {
		t.Fatalf("expected 1 inferred relation, got %d", result.RelationshipsInferred)
	}
	inferred := result.Relations[0]
	if inferred.SourceID != "reg" || inferred.TargetID != "county" || inferred.Type != "applies_in" {
		t.Errorf("expected reg -applies_in-> county, got %s -%s-> %s",
			inferred.SourceID, inferred.Type, inferred.TargetID)
	}
}

func TestRun_TypeBasedInheritance(t *testing.T) {
	s := newMutableFake()
	s.addNode(common.Entity{ID: "agency", Type: common.EntityTypeAgency, Name: "agency"})
	s.addNode(common.Entity{
		ID: "parent", Type: common.EntityTypeOrganization, Name: "parent",
		Metadata: map[string]any{"domain": "transport"},
	})
	s.addNode(common.Entity{
		ID: "child", Type: common.EntityTypeOrganization, Name: "child",
		Hierarchy: &common.Hierarchy{Level: 1, ParentID: "parent"},
	})
	s.addRelation("parent", "agency", "governed_by", 0)

	result, err := New(s).Run(context.Background(), Options{
		RuleTypes:    []RuleType{RuleTypeBased},
		StoreResults: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 1 {
		t.Fatalf("expected the child to inherit governed_by, got %d", result.RelationshipsInferred)
	}
	if result.PropertiesInferred != 1 {
		t.Errorf("expected 1 propagated property, got %d", result.PropertiesInferred)
	}
	child := s.nodes["child"]
	if child.Metadata["domain"] != "transport" {
		t.Errorf("expected child to inherit domain, got %v", child.Metadata)
	}
	if len(s.updated) != 1 {
		t.Errorf("expected one persisted entity update, got %d", len(s.updated))
	}
}

func TestRun_TypeBasedKeepsExistingProperty(t *testing.T) {
	s := newMutableFake()
	s.addNode(common.Entity{
		ID: "parent", Type: common.EntityTypeOrganization, Name: "parent",
		Metadata: map[string]any{"domain": "transport"},
	})
	s.addNode(common.Entity{
		ID: "child", Type: common.EntityTypeOrganization, Name: "child",
		Metadata:  map[string]any{"domain": "health"},
		Hierarchy: &common.Hierarchy{Level: 1, ParentID: "parent"},
	})

	result, err := New(s).Run(context.Background(), Options{RuleTypes: []RuleType{RuleTypeBased}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.PropertiesInferred != 0 {
		t.Errorf("a set child property must never be overwritten, got %d propagated", result.PropertiesInferred)
	}
	if s.nodes["child"].Metadata["domain"] != "health" {
		t.Errorf("child domain changed to %v", s.nodes["child"].Metadata["domain"])
	}
}

func TestRun_TemporalWindowIntersection(t *testing.T) {
	from1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	to1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	from2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	s := newMutableFake()
	for _, id := range []string{"A", "B", "C"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.relations = append(s.relations,
		common.Relation{SourceID: "A", TargetID: "B", Type: "supersedes", ValidFrom: &from1, ValidTo: &to1},
		common.Relation{SourceID: "B", TargetID: "C", Type: "supersedes", ValidFrom: &from2},
	)

	result, err := New(s).Run(context.Background(), Options{
		RuleTypes: []RuleType{RuleTransitive, RuleTemporal},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 1 {
		t.Fatalf("expected 1 inferred relation, got %d", result.RelationshipsInferred)
	}
	inferred := result.Relations[0]
	if inferred.ValidFrom == nil || !inferred.ValidFrom.Equal(from2) {
		t.Errorf("expected the later premise start %v, got %v", from2, inferred.ValidFrom)
	}
	if inferred.ValidTo == nil || !inferred.ValidTo.Equal(to1) {
		t.Errorf("expected the earlier premise end %v, got %v", to1, inferred.ValidTo)
	}
}

func TestRun_EntityScope(t *testing.T) {
	s := newMutableFake()
	for _, id := range []string{"A", "B", "C", "X", "Y", "Z"} {
		s.addNode(common.Entity{ID: id, Type: common.EntityTypeOrganization, Name: id})
	}
	s.addRelation("A", "B", "part_of", 0)
	s.addRelation("B", "C", "part_of", 0)
	s.addRelation("X", "Y", "part_of", 0)
	s.addRelation("Y", "Z", "part_of", 0)

	result, err := New(s).Run(context.Background(), Options{
		RuleTypes: []RuleType{RuleTransitive},
		EntityIDs: []string{"A", "B", "C"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RelationshipsInferred != 1 {
		t.Fatalf("expected only the scoped chain to fire, got %d", result.RelationshipsInferred)
	}
	if result.Relations[0].SourceID != "A" {
		t.Errorf("expected A as the scoped source, got %s", result.Relations[0].SourceID)
	}
}

func TestRun_RequiresMutableStore(t *testing.T) {
	_, err := New(readOnlyStore{}).Run(context.Background(), Options{})
	if !errors.Is(err, store.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported on a read-only backend, got %v", err)
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	engine := New(newMutableFake())
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown rule type", Options{RuleTypes: []RuleType{"causal"}}},
		{"depth too large", Options{MaxDepth: MaxDepthLimit + 1}},
		{"min confidence at 1", Options{MinConfidence: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Run(context.Background(), tt.opts)
			var ve *common.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

// readOnlyStore carries no capabilities at all.
type readOnlyStore struct{}

func (readOnlyStore) Capabilities() store.Capabilities { return store.Capabilities{} }
func (readOnlyStore) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	return nil, store.ErrNotFound
}
func (readOnlyStore) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	return nil, nil
}
func (readOnlyStore) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	return &common.GraphSnapshot{}, nil
}
func (readOnlyStore) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	return nil, nil
}
func (readOnlyStore) GetAllNodes(ctx context.Context) ([]common.Entity, error) { return nil, nil }
func (readOnlyStore) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{}, nil
}
func (readOnlyStore) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	return nil, nil
}
func (readOnlyStore) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	return nil, nil
}
