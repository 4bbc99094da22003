// Package cluster groups graph entities into named clusters and builds
// the meta-graph over them. Attribute strategies bucket entities by
// taxonomy type, policy domain or jurisdiction; community detection runs
// label propagation over the graph structure and reports modularity.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// Strategy selects how entities are grouped.
type Strategy string

const (
	StrategyEntityType   Strategy = "entity-type"
	StrategyDomain       Strategy = "domain"
	StrategyJurisdiction Strategy = "jurisdiction"
	StrategyHybrid       Strategy = "hybrid"
	StrategyCommunity    Strategy = "community"
)

const (
	DefaultMinClusterSize = 3
	DefaultSnapshotLimit  = 10000

	// UnclusteredID names the bucket collecting entities from clusters
	// smaller than minClusterSize. They are never silently kept at
	// full weight in a regular cluster.
	UnclusteredID = "unclustered"
)

// Options configures one clustering run.
type Options struct {
	Strategy       Strategy
	MinClusterSize int
	SnapshotLimit  int
	// MaxIterations bounds label propagation. Ignored by the
	// attribute strategies.
	MaxIterations int
}

func (o *Options) normalize() error {
	if o.Strategy == "" {
		o.Strategy = StrategyEntityType
	}
	switch o.Strategy {
	case StrategyEntityType, StrategyDomain, StrategyJurisdiction, StrategyHybrid, StrategyCommunity:
	default:
		return common.Invalid("strategy", "unknown clustering strategy %q", o.Strategy)
	}
	if o.MinClusterSize == 0 {
		o.MinClusterSize = DefaultMinClusterSize
	}
	if o.MinClusterSize < 1 {
		return common.Invalid("minClusterSize", "must be at least 1")
	}
	if o.SnapshotLimit == 0 {
		o.SnapshotLimit = DefaultSnapshotLimit
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = defaultPropagationRounds
	}
	return nil
}

// Metrics holds the evaluation numbers community detection reports.
type Metrics struct {
	Modularity float64 `json:"modularity"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
}

// RunResult is the outcome of one clustering run. Each considered entity
// appears in at most one cluster; entities from dropped small clusters
// land in Unclustered.
type RunResult struct {
	Strategy    Strategy             `json:"strategy"`
	Clusters    []common.ClusterNode `json:"clusters"`
	Unclustered *common.ClusterNode  `json:"unclustered,omitempty"`
	Metrics     *Metrics             `json:"metrics,omitempty"`
}

// Builder runs clustering strategies over a store snapshot.
type Builder struct {
	store store.GraphStore
}

func NewBuilder(s store.GraphStore) *Builder {
	return &Builder{store: s}
}

// Build runs the selected strategy over a fresh graph snapshot.
func (b *Builder) Build(ctx context.Context, opts Options) (*RunResult, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	snap, err := b.store.GetGraphSnapshot(ctx, opts.SnapshotLimit)
	if err != nil {
		return nil, err
	}

	if opts.Strategy == StrategyCommunity {
		return b.buildCommunities(ctx, snap, opts)
	}
	return buildAttributeClusters(snap, opts)
}

// attributeKey returns the grouping key of an entity under an attribute
// strategy, or "" when the entity carries no value for it.
func attributeKey(e common.Entity, strategy Strategy) string {
	metaString := func(key string) string {
		if e.Metadata == nil {
			return ""
		}
		if v, ok := e.Metadata[key].(string); ok {
			return strings.ToLower(v)
		}
		return ""
	}
	switch strategy {
	case StrategyEntityType:
		return string(e.Type)
	case StrategyDomain:
		return metaString("domain")
	case StrategyJurisdiction:
		return metaString("jurisdiction")
	case StrategyHybrid:
		parts := []string{string(e.Type)}
		if d := metaString("domain"); d != "" {
			parts = append(parts, d)
		}
		if j := metaString("jurisdiction"); j != "" {
			parts = append(parts, j)
		}
		return strings.Join(parts, "/")
	}
	return ""
}

func buildAttributeClusters(snap *common.GraphSnapshot, opts Options) (*RunResult, error) {
	groups := make(map[string]map[string]struct{})
	for _, e := range snap.Nodes {
		key := attributeKey(e, opts.Strategy)
		if key == "" {
			key = UnclusteredID
		}
		if groups[key] == nil {
			groups[key] = make(map[string]struct{})
		}
		groups[key][e.ID] = struct{}{}
	}
	return assembleClusters(groups, opts, nil), nil
}

// assembleClusters turns grouped entity sets into ordered ClusterNodes,
// enforcing minClusterSize and the ascending-cluster-id tie-break.
func assembleClusters(groups map[string]map[string]struct{}, opts Options, metrics *Metrics) *RunResult {
	unclustered := make(map[string]struct{})
	if small, ok := groups[UnclusteredID]; ok {
		for id := range small {
			unclustered[id] = struct{}{}
		}
		delete(groups, UnclusteredID)
	}

	var clusters []common.ClusterNode
	for key, members := range groups {
		if len(members) < opts.MinClusterSize {
			for id := range members {
				unclustered[id] = struct{}{}
			}
			continue
		}
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		clusters = append(clusters, common.ClusterNode{
			ID:          fmt.Sprintf("%s:%s", opts.Strategy, key),
			Label:       key,
			ClusterType: string(opts.Strategy),
			Level:       0,
			NodeCount:   len(ids),
			EntityIDs:   ids,
		})
	}

	// Primary order is cluster size; equal sizes fall back to
	// ascending cluster id so runs stay deterministic.
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].NodeCount != clusters[j].NodeCount {
			return clusters[i].NodeCount > clusters[j].NodeCount
		}
		return clusters[i].ID < clusters[j].ID
	})

	result := &RunResult{Strategy: opts.Strategy, Clusters: clusters, Metrics: metrics}
	if len(unclustered) > 0 {
		ids := make([]string, 0, len(unclustered))
		for id := range unclustered {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		result.Unclustered = &common.ClusterNode{
			ID:          UnclusteredID,
			Label:       "Unclustered",
			ClusterType: string(opts.Strategy),
			NodeCount:   len(ids),
			EntityIDs:   ids,
		}
	}
	return result
}

// ClusterEntities re-runs the strategy encoded in the cluster ID and
// returns one page of the cluster's deduplicated entity list. Cluster IDs
// are deterministic per strategy, so a re-run resolves the same cluster.
func (b *Builder) ClusterEntities(ctx context.Context, clusterID string, offset, limit int) ([]string, int, error) {
	if clusterID == "" {
		return nil, 0, common.Invalid("clusterId", "must not be empty")
	}
	if offset < 0 {
		return nil, 0, common.Invalid("offset", "must not be negative")
	}
	if limit <= 0 {
		limit = 100
	}

	strategy := Strategy(clusterID)
	if idx := strings.IndexByte(clusterID, ':'); idx > 0 {
		strategy = Strategy(clusterID[:idx])
	}
	opts := Options{Strategy: strategy}
	if clusterID == UnclusteredID {
		opts.Strategy = StrategyEntityType
	}

	result, err := b.Build(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	var target *common.ClusterNode
	if clusterID == UnclusteredID {
		target = result.Unclustered
	} else {
		for i := range result.Clusters {
			if result.Clusters[i].ID == clusterID {
				target = &result.Clusters[i]
				break
			}
		}
	}
	if target == nil {
		return nil, 0, store.ErrNotFound
	}

	total := len(target.EntityIDs)
	if offset >= total {
		return []string{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return target.EntityIDs[offset:end], total, nil
}
