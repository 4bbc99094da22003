package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// queryFake is an in-memory backend for the retrieval tests. Name lookup
// is a case-insensitive substring match, mirroring the real backends.
type queryFake struct {
	nodes  map[string]common.Entity
	edges  []common.Relation
	chunks []common.VectorChunk

	vectorCapable bool
}

func newQueryFake() *queryFake {
	return &queryFake{nodes: make(map[string]common.Entity)}
}

func (s *queryFake) addNode(id, name string) {
	s.nodes[id] = common.Entity{ID: id, Type: common.EntityTypePolicy, Name: name}
}

func (s *queryFake) addEdge(source, target, relType string) {
	s.edges = append(s.edges, common.Relation{
		ID:       source + "-" + relType + "-" + target,
		SourceID: source,
		TargetID: target,
		Type:     relType,
	})
}

func (s *queryFake) Capabilities() store.Capabilities {
	return store.Capabilities{Vector: s.vectorCapable}
}

func (s *queryFake) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *queryFake) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, store.ErrNotFound
	}
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
	for _, e := range s.edges {
		if !matchesType(e.Type) {
			continue
		}
		if e.SourceID == id {
			neighbors = append(neighbors, store.Neighbor{Entity: s.nodes[e.TargetID], Relation: e})
		} else if e.TargetID == id {
			neighbors = append(neighbors, store.Neighbor{Entity: s.nodes[e.SourceID], Relation: e})
		}
	}
	return neighbors, nil
}

func (s *queryFake) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	return &common.GraphSnapshot{}, nil
}

func (s *queryFake) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	return nil, nil
}

func (s *queryFake) GetAllNodes(ctx context.Context) ([]common.Entity, error) { return nil, nil }

func (s *queryFake) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{}, nil
}

func (s *queryFake) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	return nil, nil
}

func (s *queryFake) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	needle := strings.ToLower(name)
	var matches []common.Entity
	for _, n := range s.nodes {
		if strings.Contains(strings.ToLower(n.Name), needle) {
			matches = append(matches, n)
		}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *queryFake) SearchSimilarChunks(ctx context.Context, embedding []float32, limit int) ([]common.VectorChunk, error) {
	return s.chunks, nil
}

// regulatoryGraph builds: water act -governed_by-> epa -part_of-> gov,
// plus an unrelated entity.
func regulatoryGraph() *queryFake {
	s := newQueryFake()
	s.addNode("act", "Clean Water Act")
	s.addNode("epa", "Environmental Protection Agency")
	s.addNode("gov", "Federal Government")
	s.addNode("zoning", "Zoning Ordinance")
	s.addEdge("act", "epa", "governed_by")
	s.addEdge("epa", "gov", "part_of")
	return s
}

func TestFind_CollectsFactsWithinHops(t *testing.T) {
	finder := NewFactFinder(regulatoryGraph())

	facts, err := finder.Find(context.Background(), "clean water act", FactOptions{MaxHops: 2})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts within 2 hops, got %d", len(facts))
	}
	first := facts[0]
	if first.Source.ID != "act" || first.Target.ID != "epa" || first.Hops != 1 {
		t.Errorf("expected act -governed_by-> epa at hop 1, got %+v", first)
	}
	second := facts[1]
	if second.Relation.Type != "part_of" || second.Hops != 2 {
		t.Errorf("expected the 2-hop part_of fact, got %+v", second)
	}
}

func TestFind_HopBound(t *testing.T) {
	finder := NewFactFinder(regulatoryGraph())

	facts, err := finder.Find(context.Background(), "clean water act", FactOptions{MaxHops: 1})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("expected only the direct fact, got %d", len(facts))
	}
}

func TestFind_DirectionNormalized(t *testing.T) {
	finder := NewFactFinder(regulatoryGraph())

	// Entering at the relation target still reports the stored direction.
	facts, err := finder.Find(context.Background(), "environmental protection", FactOptions{MaxHops: 1})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	for _, f := range facts {
		if f.Source.ID != f.Relation.SourceID || f.Target.ID != f.Relation.TargetID {
			t.Errorf("fact endpoints must follow the relation direction, got %+v", f)
		}
	}
}

func TestFind_NoEntryPoints(t *testing.T) {
	finder := NewFactFinder(regulatoryGraph())
	facts, err := finder.Find(context.Background(), "qqqq", FactOptions{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if facts != nil {
		t.Errorf("an unresolvable query yields no facts, got %v", facts)
	}
}

func TestFind_MaxResultsCap(t *testing.T) {
	s := newQueryFake()
	s.addNode("hub", "hub topic")
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		s.addNode(id, "leaf "+id)
		s.addEdge("hub", id, "related_to")
	}
	finder := NewFactFinder(s)

	facts, err := finder.Find(context.Background(), "hub topic", FactOptions{MaxResults: 3})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(facts) != 3 {
		t.Errorf("expected the result cap respected, got %d", len(facts))
	}
}

func TestFind_Validation(t *testing.T) {
	finder := NewFactFinder(newQueryFake())
	tests := []struct {
		name  string
		query string
		opts  FactOptions
	}{
		{"empty query", "  ", FactOptions{}},
		{"hops too large", "x", FactOptions{MaxHops: MaxHopsLimit + 1}},
		{"results too large", "x", FactOptions{MaxResults: MaxResultsLimit + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := finder.Find(context.Background(), tt.query, tt.opts)
			var ve *common.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestQueryKeywords(t *testing.T) {
	got := queryKeywords("What is the Clean Water Act of 1972?")
	want := map[string]bool{"clean": true, "water": true, "act": true, "1972": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d keywords, got %v", len(want), got)
	}
	for _, k := range got {
		if !want[k] {
			t.Errorf("unexpected keyword %q", k)
		}
	}
}
