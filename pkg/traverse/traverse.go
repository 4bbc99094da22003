// Package traverse implements bounded graph walks over a Graph Store
// Adapter: BFS, DFS and hybrid traversal, shortest paths, radius-bounded
// subgraph extraction and the Steiner tree pathfinder.
//
// Every call owns its own frontier and visited set; nothing is shared
// between requests. Each store call is a blocking round trip, so all
// walks are bounded by maxDepth and maxNodes to cap latency and memory.
package traverse

import (
	"context"
	"sort"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// Strategy selects the expansion order of a traversal.
type Strategy string

const (
	StrategyBFS    Strategy = "bfs"
	StrategyDFS    Strategy = "dfs"
	StrategyHybrid Strategy = "hybrid"
)

const (
	MaxDepthLimit = 10
	MaxNodesLimit = 10000

	DefaultMaxDepth = 3
	DefaultMaxNodes = 1000
)

// Options bounds and filters a traversal.
type Options struct {
	MaxDepth          int
	MaxNodes          int
	RelationshipTypes []string
	EntityTypes       []common.EntityType
	Direction         store.Direction
	Strategy          Strategy
}

func (o *Options) normalize() error {
	if o.MaxDepth == 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxDepth < 1 || o.MaxDepth > MaxDepthLimit {
		return common.Invalid("maxDepth", "must be between 1 and %d", MaxDepthLimit)
	}
	if o.MaxNodes == 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if o.MaxNodes < 1 || o.MaxNodes > MaxNodesLimit {
		return common.Invalid("maxNodes", "must be between 1 and %d", MaxNodesLimit)
	}
	if o.Direction == "" {
		o.Direction = store.DirectionBoth
	}
	switch o.Direction {
	case store.DirectionOutgoing, store.DirectionIncoming, store.DirectionBoth:
	default:
		return common.Invalid("direction", "must be outgoing, incoming or both")
	}
	if o.Strategy == "" {
		o.Strategy = StrategyBFS
	}
	switch o.Strategy {
	case StrategyBFS, StrategyDFS, StrategyHybrid:
	default:
		return common.Invalid("strategy", "must be bfs, dfs or hybrid")
	}
	return nil
}

func (o *Options) neighborQuery() store.NeighborQuery {
	return store.NeighborQuery{
		Direction:     o.Direction,
		RelationTypes: o.RelationshipTypes,
		EntityTypes:   o.EntityTypes,
	}
}

// Result is the outcome of one traversal. VisitedCount can exceed
// len(Nodes) when the walk was capped by maxNodes.
type Result struct {
	Nodes        []common.Entity  `json:"nodes"`
	Edges        []common.Relation `json:"edges"`
	VisitedCount int              `json:"visited_count"`
	DepthReached int              `json:"depth_reached"`
}

// Engine runs bounded walks against a store. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	store store.GraphStore
}

// NewEngine creates a traversal engine on top of a store backend.
func NewEngine(s store.GraphStore) *Engine {
	return &Engine{store: s}
}

// walkState is the per-call bookkeeping of one traversal.
type walkState struct {
	visited map[string]*common.TraversalNode
	nodes   []common.Entity
	edges   []common.Relation
	edgeIDs map[string]struct{}
	opts    *Options
}

func newWalkState(opts *Options) *walkState {
	return &walkState{
		visited: make(map[string]*common.TraversalNode),
		edgeIDs: make(map[string]struct{}),
		opts:    opts,
	}
}

func (w *walkState) capped() bool {
	return len(w.nodes) >= w.opts.MaxNodes
}

func (w *walkState) include(e common.Entity, depth int, parent string) bool {
	if _, seen := w.visited[e.ID]; seen {
		return false
	}
	w.visited[e.ID] = &common.TraversalNode{ID: e.ID, Depth: depth, Parent: parent}
	if w.capped() {
		return false
	}
	w.nodes = append(w.nodes, e)
	return true
}

func (w *walkState) includeEdge(r common.Relation) {
	key := r.ID
	if key == "" {
		key = r.Key()
	}
	if _, seen := w.edgeIDs[key]; seen {
		return
	}
	w.edgeIDs[key] = struct{}{}
	w.edges = append(w.edges, r)
}

func (w *walkState) result() *Result {
	depth := 0
	included := make(map[string]struct{}, len(w.nodes))
	for _, n := range w.nodes {
		included[n.ID] = struct{}{}
		if d := w.visited[n.ID].Depth; d > depth {
			depth = d
		}
	}
	// Keep only edges whose two endpoints made it into the result.
	edges := w.edges[:0]
	for _, e := range w.edges {
		if _, ok := included[e.SourceID]; !ok {
			continue
		}
		if _, ok := included[e.TargetID]; !ok {
			continue
		}
		edges = append(edges, e)
	}
	return &Result{
		Nodes:        w.nodes,
		Edges:        edges,
		VisitedCount: len(w.visited),
		DepthReached: depth,
	}
}

// Traverse walks the graph from startNodeID using the configured
// strategy. Every returned node is reachable from the start within
// maxDepth hops under the direction and type filters.
func (e *Engine) Traverse(ctx context.Context, startNodeID string, opts Options) (*Result, error) {
	if startNodeID == "" {
		return nil, common.Invalid("startNodeId", "must not be empty")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	start, err := e.store.GetNode(ctx, startNodeID)
	if err != nil {
		return nil, err
	}

	w := newWalkState(&opts)
	w.include(*start, 0, "")

	switch opts.Strategy {
	case StrategyDFS:
		err = e.walkDFS(ctx, w, start.ID, 0)
	case StrategyHybrid:
		err = e.walkHybrid(ctx, w, start.ID)
	default:
		err = e.walkBFS(ctx, w, []string{start.ID}, 0, opts.MaxDepth)
	}
	if err != nil {
		return nil, err
	}
	return w.result(), nil
}

// walkBFS expands level by level starting from the given frontier, which
// sits at startDepth. Depth assigned to a node is its shortest-hop
// distance from the traversal start.
func (e *Engine) walkBFS(ctx context.Context, w *walkState, frontier []string, startDepth, maxDepth int) error {
	depth := startDepth
	for len(frontier) > 0 && depth < maxDepth {
		if err := ctx.Err(); err != nil {
			return err
		}
		var next []string
		for _, id := range frontier {
			if w.capped() {
				return nil
			}
			neighbors, err := e.store.GetNeighbors(ctx, id, w.opts.neighborQuery())
			if err != nil {
				return err
			}
			for _, n := range neighbors {
				w.includeEdge(n.Relation)
				if w.include(n.Entity, depth+1, id) {
					next = append(next, n.Entity.ID)
				}
			}
		}
		frontier = next
		depth++
	}
	return nil
}

// walkDFS explores one branch fully before the next. Sibling order is
// the store's insertion order, which keeps runs reproducible.
func (e *Engine) walkDFS(ctx context.Context, w *walkState, id string, depth int) error {
	if depth >= w.opts.MaxDepth || w.capped() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	neighbors, err := e.store.GetNeighbors(ctx, id, w.opts.neighborQuery())
	if err != nil {
		return err
	}
	for _, n := range neighbors {
		w.includeEdge(n.Relation)
		if !w.include(n.Entity, depth+1, id) {
			continue
		}
		if err := e.walkDFS(ctx, w, n.Entity.ID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// walkHybrid goes breadth-first up to half the depth budget to keep
// highly connected start regions bounded, then depth-first from the
// resulting frontier to still reach deep chains.
func (e *Engine) walkHybrid(ctx context.Context, w *walkState, startID string) error {
	breadthDepth := w.opts.MaxDepth / 2
	if breadthDepth < 1 {
		breadthDepth = 1
	}
	if err := e.walkBFS(ctx, w, []string{startID}, 0, breadthDepth); err != nil {
		return err
	}

	var frontier []string
	for id, node := range w.visited {
		if node.Depth == breadthDepth {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)
	for _, id := range frontier {
		if err := e.walkDFS(ctx, w, id, breadthDepth); err != nil {
			return err
		}
	}
	return nil
}
