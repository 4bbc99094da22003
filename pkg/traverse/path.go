package traverse

import (
	"context"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

const (
	MaxRadiusLimit = 5

	DefaultRadius = 2
)

// Path is a shortest hop-count path between two nodes. Edges[i] connects
// Nodes[i] and Nodes[i+1].
type Path struct {
	Nodes  []common.Entity   `json:"nodes"`
	Edges  []common.Relation `json:"edges"`
	Length int               `json:"length"`
}

// FindPath returns the shortest path by hop count between start and end
// within the depth bound, or (nil, nil) when no path exists in bounds.
// An unreachable target is a valid outcome, not an error.
func (e *Engine) FindPath(ctx context.Context, startID, endID string, opts Options) (*Path, error) {
	if startID == "" {
		return nil, common.Invalid("startNodeId", "must not be empty")
	}
	if endID == "" {
		return nil, common.Invalid("endNodeId", "must not be empty")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	start, err := e.store.GetNode(ctx, startID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetNode(ctx, endID); err != nil {
		return nil, err
	}
	if startID == endID {
		return &Path{Nodes: []common.Entity{*start}, Length: 0}, nil
	}

	visited := map[string]hop{startID: {entity: *start}}
	frontier := []string{startID}

	for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, id := range frontier {
			neighbors, err := e.store.GetNeighbors(ctx, id, opts.neighborQuery())
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, seen := visited[n.Entity.ID]; seen {
					continue
				}
				visited[n.Entity.ID] = hop{parent: id, entity: n.Entity, edge: n.Relation}
				if n.Entity.ID == endID {
					return reconstructPath(visited, startID, endID), nil
				}
				next = append(next, n.Entity.ID)
			}
		}
		frontier = next
	}
	return nil, nil
}

// hop records how a node was reached during a shortest-path search.
type hop struct {
	parent string
	entity common.Entity
	edge   common.Relation
}

func reconstructPath(visited map[string]hop, startID, endID string) *Path {
	var nodes []common.Entity
	var edges []common.Relation
	for id := endID; ; {
		h := visited[id]
		nodes = append([]common.Entity{h.entity}, nodes...)
		if id == startID {
			break
		}
		edges = append([]common.Relation{h.edge}, edges...)
		id = h.parent
	}
	return &Path{Nodes: nodes, Edges: edges, Length: len(edges)}
}

// ExtractSubgraph returns the ball of nodes within radius hops of the
// center, plus the induced edges between them.
func (e *Engine) ExtractSubgraph(ctx context.Context, centerID string, radius int, opts Options) (*Result, error) {
	if centerID == "" {
		return nil, common.Invalid("centerNodeId", "must not be empty")
	}
	if radius == 0 {
		radius = DefaultRadius
	}
	if radius < 1 || radius > MaxRadiusLimit {
		return nil, common.Invalid("radius", "must be between 1 and %d", MaxRadiusLimit)
	}
	// A subgraph ball ignores edge direction by definition.
	opts.Direction = store.DirectionBoth
	opts.MaxDepth = radius
	opts.Strategy = StrategyBFS
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	center, err := e.store.GetNode(ctx, centerID)
	if err != nil {
		return nil, err
	}
	w := newWalkState(&opts)
	w.include(*center, 0, "")
	if err := e.walkBFS(ctx, w, []string{centerID}, 0, radius); err != nil {
		return nil, err
	}

	// The walk stops expanding at the ball's surface, so an edge between
	// two boundary nodes is never observed. One more neighbor pass over
	// the boundary picks up those induced edges.
	included := make(map[string]struct{}, len(w.nodes))
	for _, n := range w.nodes {
		included[n.ID] = struct{}{}
	}
	for _, n := range w.nodes {
		if w.visited[n.ID].Depth != radius {
			continue
		}
		neighbors, err := e.store.GetNeighbors(ctx, n.ID, opts.neighborQuery())
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			if _, ok := included[nb.Entity.ID]; ok {
				w.includeEdge(nb.Relation)
			}
		}
	}
	return w.result(), nil
}
