package cluster

import (
	"context"
	"sort"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

const defaultPropagationRounds = 20

// buildCommunities detects communities with synchronous label
// propagation: every node repeatedly adopts the most frequent label among
// its neighbors until labels stabilize or the round budget runs out.
// Nodes are processed in sorted ID order and label ties break toward the
// smallest label, which keeps runs deterministic.
func (b *Builder) buildCommunities(ctx context.Context, snap *common.GraphSnapshot, opts Options) (*RunResult, error) {
	ids := make([]string, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	adjacency := make(map[string][]string, len(ids))
	degree := make(map[string]int, len(ids))
	for _, e := range snap.Edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
		adjacency[e.TargetID] = append(adjacency[e.TargetID], e.SourceID)
		degree[e.SourceID]++
		degree[e.TargetID]++
	}

	labels := make(map[string]string, len(ids))
	for _, id := range ids {
		labels[id] = id
	}

	iterations := 0
	converged := false
	for round := 0; round < opts.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations = round + 1
		next := make(map[string]string, len(labels))
		changed := false
		for _, id := range ids {
			neighbors := adjacency[id]
			if len(neighbors) == 0 {
				next[id] = labels[id]
				continue
			}
			counts := make(map[string]int, len(neighbors))
			for _, n := range neighbors {
				counts[labels[n]]++
			}
			best, bestCount := labels[id], 0
			for label, count := range counts {
				if count > bestCount || (count == bestCount && label < best) {
					best, bestCount = label, count
				}
			}
			next[id] = best
			if best != labels[id] {
				changed = true
			}
		}
		labels = next
		if !changed {
			converged = true
			break
		}
	}

	groups := make(map[string]map[string]struct{})
	for _, id := range ids {
		label := labels[id]
		if groups[label] == nil {
			groups[label] = make(map[string]struct{})
		}
		groups[label][id] = struct{}{}
	}

	metrics := &Metrics{
		Modularity: modularity(groups, labels, snap.Edges, degree),
		Iterations: iterations,
		Converged:  converged,
	}
	return assembleClusters(groups, opts, metrics), nil
}

// modularity computes Q for an undirected partition:
// Q = sum over communities of (e_c/m - (d_c/2m)^2), where e_c is the
// number of intra-community edges and d_c the total degree inside c.
func modularity(groups map[string]map[string]struct{}, labels map[string]string, edges []common.Relation, degree map[string]int) float64 {
	m := float64(len(edges))
	if m == 0 {
		return 0
	}

	intra := make(map[string]float64)
	for _, e := range edges {
		if labels[e.SourceID] == labels[e.TargetID] {
			intra[labels[e.SourceID]]++
		}
	}

	q := 0.0
	for label, members := range groups {
		totalDegree := 0.0
		for id := range members {
			totalDegree += float64(degree[id])
		}
		share := totalDegree / (2 * m)
		q += intra[label]/m - share*share
	}
	return q
}
