package traverse

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// SteinerOptions bounds the connecting-tree search.
type SteinerOptions struct {
	MaxDepth          int
	MaxNodes          int
	RelationshipTypes []string
	// MinWeight drops edges whose confidence falls below it. Edges
	// without a confidence are treated as weight 1.
	MinWeight float64
}

// SteinerResult is an approximate minimum connecting tree over the
// terminal set. SteinerNodes are the non-terminal connector nodes.
type SteinerResult struct {
	Nodes             []common.Entity   `json:"nodes"`
	Edges             []common.Relation `json:"edges"`
	TotalCost         float64           `json:"total_cost"`
	TerminalNodes     []string          `json:"terminal_nodes"`
	SteinerNodes      []string          `json:"steiner_nodes"`
	PathFindingTime   time.Duration     `json:"path_finding_time"`
	AverageConfidence float64           `json:"average_confidence"`
	Explanation       string            `json:"explanation"`
}

// ResolveTerminals maps a free-text query to terminal node IDs by entity
// name lookup. Failing to resolve at least two terminals is a validation
// problem the caller reports as such, never a silent fallback.
func (e *Engine) ResolveTerminals(ctx context.Context, query string, limit int) ([]string, error) {
	if query == "" {
		return nil, common.Invalid("query", "must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}
	matches, err := e.store.FindNodesByName(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(matches) < 2 {
		return nil, common.Invalid("query", "resolved %d terminal(s), need at least 2", len(matches))
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids, nil
}

// SteinerTree computes an approximate minimum-cost tree connecting all
// terminals using iterative shortest-path merge: grow the tree from the
// first terminal and repeatedly attach the nearest unconnected terminal
// over a shortest path. This is the standard 2-approximation; the exact
// Steiner tree is NP-hard.
//
// Returns (nil, nil) when no tree connecting every terminal exists within
// the bounds.
func (e *Engine) SteinerTree(ctx context.Context, terminals []string, opts SteinerOptions) (*SteinerResult, error) {
	if len(terminals) < 2 {
		return nil, common.Invalid("terminalNodeIds", "need at least 2 terminals, got %d", len(terminals))
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = MaxDepthLimit
	}
	if opts.MaxDepth < 1 || opts.MaxDepth > MaxDepthLimit {
		return nil, common.Invalid("maxDepth", "must be between 1 and %d", MaxDepthLimit)
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.MaxNodes < 1 || opts.MaxNodes > MaxNodesLimit {
		return nil, common.Invalid("maxNodes", "must be between 1 and %d", MaxNodesLimit)
	}
	if opts.MinWeight < 0 || opts.MinWeight > 1 {
		return nil, common.Invalid("minWeight", "must be between 0 and 1")
	}

	start := time.Now()

	terminalSet := make(map[string]struct{}, len(terminals))
	uniqueTerminals := terminals[:0]
	for _, t := range terminals {
		if _, dup := terminalSet[t]; dup {
			continue
		}
		terminalSet[t] = struct{}{}
		uniqueTerminals = append(uniqueTerminals, t)
	}
	terminals = uniqueTerminals
	if len(terminals) < 2 {
		return nil, common.Invalid("terminalNodeIds", "need at least 2 distinct terminals")
	}

	tree := map[string]common.Entity{}
	var treeEdges []common.Relation
	edgeKeys := map[string]struct{}{}

	first, err := e.store.GetNode(ctx, terminals[0])
	if err != nil {
		return nil, err
	}
	tree[first.ID] = *first

	remaining := make(map[string]struct{}, len(terminals)-1)
	for _, t := range terminals[1:] {
		if _, err := e.store.GetNode(ctx, t); err != nil {
			return nil, err
		}
		remaining[t] = struct{}{}
	}

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := e.nearestTerminalPath(ctx, tree, remaining, opts)
		if err != nil {
			return nil, err
		}
		if path == nil {
			// At least one terminal is unreachable within the
			// bounds: no tree exists.
			return nil, nil
		}
		for _, n := range path.nodes {
			tree[n.ID] = n
		}
		for _, edge := range path.edges {
			key := edge.ID
			if key == "" {
				key = edge.Key()
			}
			if _, dup := edgeKeys[key]; dup {
				continue
			}
			edgeKeys[key] = struct{}{}
			treeEdges = append(treeEdges, edge)
		}
		delete(remaining, path.terminal)
	}

	nodes := make([]common.Entity, 0, len(tree))
	for _, n := range tree {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	var steinerNodes []string
	for _, n := range nodes {
		if _, isTerminal := terminalSet[n.ID]; !isTerminal {
			steinerNodes = append(steinerNodes, n.ID)
		}
	}

	totalCost := float64(len(treeEdges))
	confidence := 0.0
	for _, edge := range treeEdges {
		c := edge.Confidence
		if c == 0 {
			c = 1
		}
		confidence += c
	}
	if len(treeEdges) > 0 {
		confidence /= float64(len(treeEdges))
	}

	return &SteinerResult{
		Nodes:             nodes,
		Edges:             treeEdges,
		TotalCost:         totalCost,
		TerminalNodes:     terminals,
		SteinerNodes:      steinerNodes,
		PathFindingTime:   time.Since(start),
		AverageConfidence: confidence,
		Explanation: fmt.Sprintf(
			"connected %d terminals through %d intermediate node(s) over %d edge(s) using iterative shortest-path merge",
			len(terminals), len(steinerNodes), len(treeEdges)),
	}, nil
}

// steinerPath is one shortest path from the current tree to a terminal.
type steinerPath struct {
	terminal string
	nodes    []common.Entity
	edges    []common.Relation
}

// nearestTerminalPath runs a multi-source BFS from every node already in
// the tree and stops at the first remaining terminal it reaches. BFS
// explores hop count in order, so the first terminal found is the
// nearest one.
func (e *Engine) nearestTerminalPath(ctx context.Context, tree map[string]common.Entity, remaining map[string]struct{}, opts SteinerOptions) (*steinerPath, error) {
	visited := make(map[string]hop, len(tree))
	var frontier []string
	for id, entity := range tree {
		visited[id] = hop{entity: entity}
		frontier = append(frontier, id)
	}
	sort.Strings(frontier)

	query := store.NeighborQuery{
		Direction:     store.DirectionBoth,
		RelationTypes: opts.RelationshipTypes,
	}

	for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, id := range frontier {
			neighbors, err := e.store.GetNeighbors(ctx, id, query)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if opts.MinWeight > 0 && n.Relation.Confidence > 0 && n.Relation.Confidence < opts.MinWeight {
					continue
				}
				if _, seen := visited[n.Entity.ID]; seen {
					continue
				}
				if len(visited) >= opts.MaxNodes {
					return nil, nil
				}
				visited[n.Entity.ID] = hop{parent: id, entity: n.Entity, edge: n.Relation}
				if _, isTarget := remaining[n.Entity.ID]; isTarget {
					return tracePathToTree(visited, tree, n.Entity.ID), nil
				}
				next = append(next, n.Entity.ID)
			}
		}
		frontier = next
	}
	return nil, nil
}

// tracePathToTree walks parent links from the reached terminal back to
// the first node already inside the tree.
func tracePathToTree(visited map[string]hop, tree map[string]common.Entity, terminalID string) *steinerPath {
	path := &steinerPath{terminal: terminalID}
	for id := terminalID; ; {
		h := visited[id]
		path.nodes = append(path.nodes, h.entity)
		if _, inTree := tree[id]; inTree {
			break
		}
		path.edges = append(path.edges, h.edge)
		id = h.parent
	}
	return path
}
