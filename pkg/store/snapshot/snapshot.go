// Package snapshot implements the reduced Graph Store Adapter backend: a
// read-only graph loaded from a JSON export, typically a nightly analytics
// mirror in S3. It serves snapshot, type and neighbor queries from memory;
// mutation, temporal, vector and raw-query operations report unsupported.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// Store holds a fully materialized graph export. All lookups are served
// from the indexes built at load time; the store is immutable afterwards,
// so concurrent reads need no locking.
type Store struct {
	nodes    map[string]common.Entity
	ordered  []string
	edges    []common.Relation
	outgoing map[string][]int
	incoming map[string][]int
}

// Load reads a graph export from r and builds the lookup indexes.
func Load(r io.Reader) (*Store, error) {
	var snap common.GraphSnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode graph snapshot: %w", err)
	}

	s := &Store{
		nodes:    make(map[string]common.Entity, len(snap.Nodes)),
		ordered:  make([]string, 0, len(snap.Nodes)),
		edges:    snap.Edges,
		outgoing: make(map[string][]int),
		incoming: make(map[string][]int),
	}
	for _, n := range snap.Nodes {
		if _, ok := s.nodes[n.ID]; ok {
			continue
		}
		s.nodes[n.ID] = n
		s.ordered = append(s.ordered, n.ID)
	}
	sort.Strings(s.ordered)
	for i, e := range snap.Edges {
		s.outgoing[e.SourceID] = append(s.outgoing[e.SourceID], i)
		s.incoming[e.TargetID] = append(s.incoming[e.TargetID], i)
	}
	return s, nil
}

// LoadFile loads a snapshot from a local JSON file.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// LoadS3 fetches a snapshot object from S3 and loads it.
func LoadS3(ctx context.Context, client *s3.Client, bucket, key string) (*Store, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()
	return Load(result.Body)
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{}
}

func (s *Store) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func matchesQuery(e common.Entity, r common.Relation, q store.NeighborQuery) bool {
	if !q.IncludeTombstoned && e.Tombstoned {
		return false
	}
	if len(q.RelationTypes) > 0 {
		found := false
		for _, t := range q.RelationTypes {
			if r.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.EntityTypes) > 0 {
		found := false
		for _, t := range q.EntityTypes {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) GetNeighbors(ctx context.Context, id string, query store.NeighborQuery) ([]store.Neighbor, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, store.ErrNotFound
	}
	direction := query.Direction
	if direction == "" {
		direction = store.DirectionBoth
	}

	var neighbors []store.Neighbor
	appendEdges := func(indexes []int, pickTarget bool) {
		for _, i := range indexes {
			edge := s.edges[i]
			otherID := edge.SourceID
			if pickTarget {
				otherID = edge.TargetID
			}
			other, ok := s.nodes[otherID]
			if !ok {
				continue
			}
			if matchesQuery(other, edge, query) {
				neighbors = append(neighbors, store.Neighbor{Entity: other, Relation: edge})
			}
		}
	}

	if direction == store.DirectionOutgoing || direction == store.DirectionBoth {
		appendEdges(s.outgoing[id], true)
	}
	if direction == store.DirectionIncoming || direction == store.DirectionBoth {
		appendEdges(s.incoming[id], false)
	}
	return neighbors, nil
}

func (s *Store) GetGraphSnapshot(ctx context.Context, limit int) (*common.GraphSnapshot, error) {
	if limit <= 0 || limit > len(s.ordered) {
		limit = len(s.ordered)
	}
	included := make(map[string]struct{}, limit)
	nodes := make([]common.Entity, 0, limit)
	for _, id := range s.ordered[:limit] {
		nodes = append(nodes, s.nodes[id])
		included[id] = struct{}{}
	}
	var edges []common.Relation
	for _, e := range s.edges {
		if _, ok := included[e.SourceID]; !ok {
			continue
		}
		if _, ok := included[e.TargetID]; !ok {
			continue
		}
		edges = append(edges, e)
	}
	return &common.GraphSnapshot{Nodes: nodes, Edges: edges}, nil
}

func (s *Store) GetNodesByType(ctx context.Context, entityType common.EntityType) ([]common.Entity, error) {
	var nodes []common.Entity
	for _, id := range s.ordered {
		n := s.nodes[id]
		if n.Type == entityType && !n.Tombstoned {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (s *Store) GetAllNodes(ctx context.Context) ([]common.Entity, error) {
	nodes := make([]common.Entity, 0, len(s.ordered))
	for _, id := range s.ordered {
		n := s.nodes[id]
		if !n.Tombstoned {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (s *Store) GetStats(ctx context.Context) (*common.GraphStats, error) {
	return &common.GraphStats{NodeCount: len(s.nodes), EdgeCount: len(s.edges)}, nil
}

func (s *Store) GetEntityTypeDistribution(ctx context.Context) (map[common.EntityType]int, error) {
	dist := make(map[common.EntityType]int)
	for _, n := range s.nodes {
		if !n.Tombstoned {
			dist[n.Type]++
		}
	}
	return dist, nil
}

func (s *Store) FindNodesByName(ctx context.Context, name string, limit int) ([]common.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(name)
	var exact, partial []common.Entity
	for _, id := range s.ordered {
		n := s.nodes[id]
		if n.Tombstoned {
			continue
		}
		lower := strings.ToLower(n.Name)
		if lower == needle {
			exact = append(exact, n)
		} else if strings.Contains(lower, needle) {
			partial = append(partial, n)
		}
	}
	matches := append(exact, partial...)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
