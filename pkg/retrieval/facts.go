// Package retrieval implements the query side of the graph: fact-first
// candidate lookup, hybrid fact+vector scoring and the GraphRAG
// orchestrator that fuses them into a ranked, explainable result set.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

const (
	DefaultMaxHops    = 2
	DefaultMaxResults = 50
	MaxHopsLimit      = 5
	MaxResultsLimit   = 500

	entryPointLimit = 10
)

// FactOptions bounds a fact-first lookup.
type FactOptions struct {
	MaxResults   int
	MaxHops      int
	RelationType string
}

func (o *FactOptions) normalize() error {
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.MaxResults < 1 || o.MaxResults > MaxResultsLimit {
		return common.Invalid("maxResults", "must be between 1 and %d", MaxResultsLimit)
	}
	if o.MaxHops == 0 {
		o.MaxHops = DefaultMaxHops
	}
	if o.MaxHops < 1 || o.MaxHops > MaxHopsLimit {
		return common.Invalid("maxHops", "must be between 1 and %d", MaxHopsLimit)
	}
	return nil
}

// FactFinder resolves a free-text query to graph entry points and walks
// outward collecting candidate facts. Purely graph-local; vector
// similarity never enters here.
type FactFinder struct {
	store store.GraphStore
}

func NewFactFinder(s store.GraphStore) *FactFinder {
	return &FactFinder{store: s}
}

// Find collects (source, relation, target) triples reachable within
// maxHops of the query's entry points.
func (f *FactFinder) Find(ctx context.Context, query string, opts FactOptions) ([]common.Fact, error) {
	if strings.TrimSpace(query) == "" {
		return nil, common.Invalid("query", "must not be empty")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	entries, err := f.resolveEntryPoints(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	neighborQuery := store.NeighborQuery{Direction: store.DirectionBoth}
	if opts.RelationType != "" {
		neighborQuery.RelationTypes = []string{opts.RelationType}
	}

	var facts []common.Fact
	seen := make(map[string]struct{})
	visited := make(map[string]struct{}, len(entries))
	frontier := make([]common.Entity, 0, len(entries))
	for _, e := range entries {
		visited[e.ID] = struct{}{}
		frontier = append(frontier, e)
	}

	for hops := 1; hops <= opts.MaxHops && len(frontier) > 0; hops++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []common.Entity
		for _, node := range frontier {
			neighbors, err := f.store.GetNeighbors(ctx, node.ID, neighborQuery)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				key := n.Relation.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				fact := common.Fact{Relation: n.Relation, Hops: hops}
				if n.Relation.SourceID == node.ID {
					fact.Source, fact.Target = node, n.Entity
				} else {
					fact.Source, fact.Target = n.Entity, node
				}
				facts = append(facts, fact)
				if len(facts) >= opts.MaxResults {
					return facts, nil
				}

				if _, ok := visited[n.Entity.ID]; !ok {
					visited[n.Entity.ID] = struct{}{}
					next = append(next, n.Entity)
				}
			}
		}
		frontier = next
	}
	return facts, nil
}

// resolveEntryPoints matches the full query first, then individual
// keywords, against entity names.
func (f *FactFinder) resolveEntryPoints(ctx context.Context, query string) ([]common.Entity, error) {
	matches, err := f.store.FindNodesByName(ctx, query, entryPointLimit)
	if err != nil {
		return nil, err
	}

	found := make(map[string]common.Entity)
	for _, m := range matches {
		found[m.ID] = m
	}

	if len(found) < entryPointLimit {
		for _, keyword := range queryKeywords(query) {
			kwMatches, err := f.store.FindNodesByName(ctx, keyword, entryPointLimit)
			if err != nil {
				return nil, err
			}
			for _, m := range kwMatches {
				found[m.ID] = m
			}
			if len(found) >= entryPointLimit {
				break
			}
		}
	}

	entries := make([]common.Entity, 0, len(found))
	for _, e := range found {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	if len(entries) > entryPointLimit {
		entries = entries[:entryPointLimit]
	}
	return entries, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "by": {}, "does": {},
	"for": {}, "how": {}, "in": {}, "is": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "to": {}, "what": {}, "when": {}, "which": {},
	"who": {}, "with": {},
}

func queryKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var keywords []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}
