package traverse

import (
	"context"
	"errors"
	"testing"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// fakeStore is an in-memory read-only backend shared by the traversal
// tests. Neighbor order follows edge insertion order.
type fakeStore struct {
	nodes map[string]common.Entity
	edges []common.Relation
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]common.Entity)}
}

func (s *fakeStore) addNode(id string, entityType common.EntityType) {
	s.nodes[id] = common.Entity{ID: id, Type: entityType, Name: id}
}

func (s *fakeStore) addEdge(source, target, relType string, confidence float64) {
	s.edges = append(s.edges, common.Relation{
		ID:         source + "-" + relType + "-" + target,
		SourceID:   source,
		TargetID:   target,
		Type:       relType,
		Confidence: confidence,
	})
}

// chainStore builds a linear chain n0 -related_to-> n1 -> ... -> nk.
func chainStore(ids ...string) *fakeStore {
	s := newFakeStore()
	for _, id := range ids {
		s.addNode(id, common.EntityTypePolicy)
	}
	for i := 0; i+1 < len(ids); i++ {
		s.addEdge(ids[i], ids[i+1], "related_to", 0)
	}
	return s
}

func (s *fakeStore) Capabilities() store.Capabilities { return store.Capabilities{} }

func (s *fakeStore) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (s *fakeStore) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, store.ErrNotFound
	}
	direction := query.Direction
	if direction == "" {
		direction = store.DirectionBoth
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
		if e.SourceID == id && (direction == store.DirectionOutgoing || direction == store.DirectionBoth) {
			neighbors = append(neighbors, store.Neighbor{Entity: s.nodes[e.TargetID], Relation: e})
		}
		if e.TargetID == id && (direction == store.DirectionIncoming || direction == store.DirectionBoth) {
			neighbors = append(neighbors, store.Neighbor{Entity: s.nodes[e.SourceID], Relation: e})
		}
	}
	return neighbors, nil
}

func (s *fakeStore) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	snap := &common.GraphSnapshot{Edges: s.edges}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	return snap, nil
}

func (s *fakeStore) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	var nodes []common.Entity
	for _, n := range s.nodes {
		if n.Type == entityType {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (s *fakeStore) GetAllNodes(ctx context.Context) ([]common.Entity, error) {
	var nodes []common.Entity
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *fakeStore) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{NodeCount: len(s.nodes), EdgeCount: len(s.edges)}, nil
}

func (s *fakeStore) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	dist := make(map[common.EntityType]int)
	for _, n := range s.nodes {
		dist[n.Type]++
	}
	return dist, nil
}

func (s *fakeStore) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	var matches []common.Entity
	for _, n := range s.nodes {
		if n.Name == name {
			matches = append(matches, n)
		}
	}
	return matches, nil
}

func nodeIDs(nodes []common.Entity) map[string]bool {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	return ids
}

func TestTraverse_BFSDepthBound(t *testing.T) {
	engine := NewEngine(chainStore("A", "B", "C", "D"))

	result, err := engine.Traverse(context.Background(), "A", Options{
		MaxDepth: 2,
		Strategy: StrategyBFS,
	})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}

	ids := nodeIDs(result.Nodes)
	if len(ids) != 3 || !ids["A"] || !ids["B"] || !ids["C"] {
		t.Errorf("expected nodes {A, B, C}, got %v", ids)
	}
	if ids["D"] {
		t.Error("D is 3 hops away and must not be visited with maxDepth 2")
	}
	if result.DepthReached != 2 {
		t.Errorf("expected depth reached 2, got %d", result.DepthReached)
	}
	if len(result.Edges) != 2 {
		t.Errorf("expected 2 edges, got %d", len(result.Edges))
	}
}

func TestTraverse_Strategies(t *testing.T) {
	s := chainStore("A", "B", "C", "D")

	for _, strategy := range []Strategy{StrategyBFS, StrategyDFS, StrategyHybrid} {
		t.Run(string(strategy), func(t *testing.T) {
			engine := NewEngine(s)
			result, err := engine.Traverse(context.Background(), "A", Options{
				MaxDepth: 3,
				Strategy: strategy,
			})
			if err != nil {
				t.Fatalf("Traverse failed: %v", err)
			}
			// All strategies reach the same node set on a chain; only
			// the expansion order differs.
			ids := nodeIDs(result.Nodes)
			for _, want := range []string{"A", "B", "C", "D"} {
				if !ids[want] {
					t.Errorf("expected %s in result, got %v", want, ids)
				}
			}
		})
	}
}

func TestTraverse_MaxNodesCap(t *testing.T) {
	s := newFakeStore()
	s.addNode("hub", common.EntityTypeAgency)
	for _, leaf := range []string{"l1", "l2", "l3", "l4", "l5"} {
		s.addNode(leaf, common.EntityTypePolicy)
		s.addEdge("hub", leaf, "oversees", 0)
	}
	engine := NewEngine(s)

	result, err := engine.Traverse(context.Background(), "hub", Options{
		MaxDepth: 2,
		MaxNodes: 3,
	})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(result.Nodes) != 3 {
		t.Errorf("expected 3 nodes under the cap, got %d", len(result.Nodes))
	}
	if result.VisitedCount < len(result.Nodes) {
		t.Errorf("visited count %d must never be below returned node count %d",
			result.VisitedCount, len(result.Nodes))
	}
	for _, e := range result.Edges {
		ids := nodeIDs(result.Nodes)
		if !ids[e.SourceID] || !ids[e.TargetID] {
			t.Errorf("edge %s has an endpoint outside the returned node set", e.ID)
		}
	}
}

func TestTraverse_RelationTypeFilter(t *testing.T) {
	s := newFakeStore()
	s.addNode("A", common.EntityTypePolicy)
	s.addNode("B", common.EntityTypePolicy)
	s.addNode("C", common.EntityTypePolicy)
	s.addEdge("A", "B", "part_of", 0)
	s.addEdge("A", "C", "supersedes", 0)
	engine := NewEngine(s)

	result, err := engine.Traverse(context.Background(), "A", Options{
		MaxDepth:          2,
		RelationshipTypes: []string{"part_of"},
	})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	ids := nodeIDs(result.Nodes)
	if !ids["B"] || ids["C"] {
		t.Errorf("expected only part_of neighbors, got %v", ids)
	}
}

func TestTraverse_StartNodeMissing(t *testing.T) {
	engine := NewEngine(chainStore("A", "B"))
	_, err := engine.Traverse(context.Background(), "nope", Options{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTraverse_InvalidOptions(t *testing.T) {
	engine := NewEngine(chainStore("A", "B"))
	tests := []struct {
		name  string
		start string
		opts  Options
	}{
		{"empty start", "", Options{}},
		{"depth too large", "A", Options{MaxDepth: MaxDepthLimit + 1}},
		{"negative max nodes", "A", Options{MaxNodes: -1}},
		{"unknown strategy", "A", Options{Strategy: "random-walk"}},
		{"unknown direction", "A", Options{Direction: "sideways"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Traverse(context.Background(), tt.start, tt.opts)
			var ve *common.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestTraverse_DirectionOutgoing(t *testing.T) {
	s := newFakeStore()
	s.addNode("A", common.EntityTypePolicy)
	s.addNode("B", common.EntityTypePolicy)
	s.addNode("C", common.EntityTypePolicy)
	s.addEdge("A", "B", "supersedes", 0)
	s.addEdge("C", "A", "supersedes", 0)
	engine := NewEngine(s)

	result, err := engine.Traverse(context.Background(), "A", Options{
		MaxDepth:  1,
		Direction: store.DirectionOutgoing,
	})
	if err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	ids := nodeIDs(result.Nodes)
	if !ids["B"] || ids["C"] {
		t.Errorf("outgoing traversal must not follow incoming edges, got %v", ids)
	}
}
