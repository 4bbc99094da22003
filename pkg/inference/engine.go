// Package inference derives new relationships from the stored graph by
// forward chaining a small set of rule families. Derived edges are
// tagged inferred=true and never displace explicit edges.
package inference

import (
	"context"
	"fmt"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

// RuleType selects one rule family for a run.
type RuleType string

const (
	RuleTransitive   RuleType = "transitive"
	RuleTypeBased    RuleType = "type-based"
	RuleTemporal     RuleType = "temporal"
	RuleHierarchical RuleType = "hierarchical"
)

const (
	MinDepthLimit   = 1
	MaxDepthLimit   = 10
	DefaultMaxDepth = 3

	// DecayFactor scales confidence down once per inference hop so
	// derived facts always score below their premises.
	DecayFactor = 0.8

	// confidenceFloor keeps confidence strictly positive on deep chains.
	confidenceFloor = 1e-6
)

// transitiveRelationTypes lists the relation types where A->B and B->C
// imply A->C.
var transitiveRelationTypes = map[string]struct{}{
	"part_of":        {},
	"located_in":     {},
	"subdivision_of": {},
	"supersedes":     {},
}

// inheritableRelationTypes lists relations a child entity inherits from
// its hierarchy parent.
var inheritableRelationTypes = map[string]struct{}{
	"governed_by": {},
	"subject_to":  {},
	"applies_in":  {},
}

// jurisdictionalRelationTypes lists relations that flow down from a
// jurisdiction to its child jurisdictions.
var jurisdictionalRelationTypes = map[string]struct{}{
	"applies_in":       {},
	"has_jurisdiction": {},
}

// inheritableProperties are metadata keys the type-based rule copies
// from a hierarchy parent when the child does not set them.
var inheritableProperties = []string{"domain", "jurisdiction"}

// ValidRuleType reports whether t names a known rule family.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleTransitive, RuleTypeBased, RuleTemporal, RuleHierarchical:
		return true
	}
	return false
}

// Options configures one inference run.
type Options struct {
	// RuleTypes selects the rule families to apply. Empty means all.
	RuleTypes []RuleType
	// MaxDepth bounds the number of forward-chaining rounds.
	MaxDepth int
	// MinConfidence drops derived relations scoring below it.
	MinConfidence float64
	// StoreResults persists derived relations and propagated properties.
	StoreResults bool
	// EntityIDs restricts inference to relations touching these entities.
	EntityIDs []string
}

func (o *Options) normalize() error {
	if len(o.RuleTypes) == 0 {
		o.RuleTypes = []RuleType{RuleTransitive, RuleTypeBased, RuleTemporal, RuleHierarchical}
	}
	for _, rt := range o.RuleTypes {
		if !ValidRuleType(rt) {
			return common.Invalid("ruleTypes", "unknown rule type %q", rt)
		}
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxDepth < MinDepthLimit || o.MaxDepth > MaxDepthLimit {
		return common.Invalid("maxDepth", "must be between %d and %d", MinDepthLimit, MaxDepthLimit)
	}
	if o.MinConfidence < 0 || o.MinConfidence >= 1 {
		return common.Invalid("minConfidence", "must be in [0, 1)")
	}
	return nil
}

func (o *Options) enabled(rt RuleType) bool {
	for _, t := range o.RuleTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// Engine runs forward-chaining inference over a mutation-capable store.
type Engine struct {
	store store.GraphStore
}

func New(s store.GraphStore) *Engine {
	return &Engine{store: s}
}

// derived is a candidate relation with its derivation bookkeeping.
type derived struct {
	relation common.Relation
	depth    int
	rule     RuleType
}

// workingGraph is the per-run state of one inference call. Existing
// inferred edges are loaded up front so a re-run over unchanged state
// derives nothing new.
type workingGraph struct {
	entities map[string]common.Entity
	children map[string][]string

	edges map[string]common.Relation
	depth map[string]int
	// bySource indexes edges by relation type then source entity.
	bySource map[string]map[string][]common.Relation

	scope map[string]struct{}

	// propagateWindows applies the temporal rule family: derived edges
	// carry the intersection of their premises' validity windows.
	propagateWindows bool
}

func (g *workingGraph) inScope(id string) bool {
	if len(g.scope) == 0 {
		return true
	}
	_, ok := g.scope[id]
	return ok
}

func (g *workingGraph) add(r common.Relation, hopDepth int) {
	key := r.Key()
	g.edges[key] = r
	g.depth[key] = hopDepth
	byType, ok := g.bySource[r.Type]
	if !ok {
		byType = make(map[string][]common.Relation)
		g.bySource[r.Type] = byType
	}
	byType[r.SourceID] = append(byType[r.SourceID], r)
}

// confidence treats an unset premise confidence as certainty.
func premiseConfidence(r common.Relation) float64 {
	if r.Confidence > 0 {
		return r.Confidence
	}
	return 1
}

func decayed(premises ...common.Relation) float64 {
	conf := 1.0
	for _, p := range premises {
		if c := premiseConfidence(p); c < conf {
			conf = c
		}
	}
	conf *= DecayFactor
	if conf < confidenceFloor {
		conf = confidenceFloor
	}
	return conf
}

// windowIntersection propagates validity along a derivation: the
// derived edge holds only while every premise holds.
func windowIntersection(premises ...common.Relation) (from, to *time.Time) {
	for _, p := range premises {
		if p.ValidFrom != nil && (from == nil || p.ValidFrom.After(*from)) {
			from = p.ValidFrom
		}
		if p.ValidTo != nil && (to == nil || p.ValidTo.Before(*to)) {
			to = p.ValidTo
		}
	}
	return from, to
}

// Run applies the selected rule families until no rule fires or the
// depth bound is hit. Finding nothing to infer is a valid empty result.
func (e *Engine) Run(ctx context.Context, opts Options) (*common.InferenceResult, error) {
	start := time.Now()
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	mutable, err := store.Mutable(e.store)
	if err != nil {
		return nil, err
	}

	graph, err := e.load(ctx, mutable, opts.EntityIDs)
	if err != nil {
		return nil, err
	}
	graph.propagateWindows = opts.enabled(RuleTemporal)

	var inferred []common.Relation
	for round := 1; round <= opts.MaxDepth; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var candidates []derived
		if opts.enabled(RuleTransitive) {
			candidates = append(candidates, e.transitive(graph)...)
		}
		if opts.enabled(RuleHierarchical) {
			candidates = append(candidates, e.hierarchical(graph)...)
		}
		if opts.enabled(RuleTypeBased) {
			candidates = append(candidates, e.typeBased(graph)...)
		}
		if len(candidates) == 0 {
			break
		}

		fired := 0
		for _, c := range candidates {
			if c.depth > opts.MaxDepth {
				continue
			}
			if opts.MinConfidence > 0 && c.relation.Confidence < opts.MinConfidence {
				continue
			}
			if _, exists := graph.edges[c.relation.Key()]; exists {
				continue
			}
			id, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("failed to generate relation id: %w", err)
			}
			c.relation.ID = id
			graph.add(c.relation, c.depth)
			inferred = append(inferred, c.relation)
			fired++
		}
		if fired == 0 {
			break
		}
	}

	properties := 0
	if opts.enabled(RuleTypeBased) {
		properties, err = e.propagateProperties(ctx, graph, mutable, opts.StoreResults)
		if err != nil {
			return nil, err
		}
	}

	if opts.StoreResults && len(inferred) > 0 {
		if err := mutable.SaveRelations(ctx, inferred); err != nil {
			return nil, fmt.Errorf("failed to persist inferred relations: %w", err)
		}
	}

	return &common.InferenceResult{
		Relations:             inferred,
		RelationshipsInferred: len(inferred),
		PropertiesInferred:    properties,
		ExecutionTime:         time.Since(start),
	}, nil
}

// load pulls the scoped entities and every relation, inferred ones
// included, into per-run working state.
func (e *Engine) load(ctx context.Context, mutable store.MutableStore, entityIDs []string) (*workingGraph, error) {
	graph := &workingGraph{
		entities: make(map[string]common.Entity),
		children: make(map[string][]string),
		edges:    make(map[string]common.Relation),
		depth:    make(map[string]int),
		bySource: make(map[string]map[string][]common.Relation),
	}
	if len(entityIDs) > 0 {
		graph.scope = make(map[string]struct{}, len(entityIDs))
		for _, id := range entityIDs {
			graph.scope[id] = struct{}{}
		}
	}

	nodes, err := e.store.GetAllNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		graph.entities[n.ID] = n
		if n.Hierarchy != nil && n.Hierarchy.ParentID != "" {
			graph.children[n.Hierarchy.ParentID] = append(graph.children[n.Hierarchy.ParentID], n.ID)
		}
	}
	for _, ids := range graph.children {
		sort.Strings(ids)
	}

	relations, err := mutable.GetAllRelations(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, r := range relations {
		key := r.Key()
		// Explicit edges win when both variants of a triple exist.
		if existing, ok := graph.edges[key]; ok && !existing.Inferred {
			continue
		}
		hopDepth := 0
		if r.Inferred {
			hopDepth = 1
		}
		graph.add(r, hopDepth)
	}
	return graph, nil
}

// transitive derives A->C from A->B and B->C for transitive relation
// types.
func (e *Engine) transitive(graph *workingGraph) []derived {
	var out []derived
	for relType := range transitiveRelationTypes {
		bySource := graph.bySource[relType]
		for _, first := range sortedEdges(bySource) {
			if !graph.inScope(first.SourceID) {
				continue
			}
			for _, second := range bySource[first.TargetID] {
				if second.TargetID == first.SourceID {
					continue
				}
				out = append(out, e.derive(graph, RuleTransitive, common.Relation{
					SourceID: first.SourceID,
					TargetID: second.TargetID,
					Type:     relType,
				}, first, second))
			}
		}
	}
	return out
}

// hierarchical pushes jurisdictional relations down to child
// jurisdictions: what applies in a state applies in its counties.
func (e *Engine) hierarchical(graph *workingGraph) []derived {
	var out []derived
	for relType := range jurisdictionalRelationTypes {
		for _, rel := range sortedEdges(graph.bySource[relType]) {
			if !graph.inScope(rel.SourceID) {
				continue
			}
			target, ok := graph.entities[rel.TargetID]
			if !ok || target.Type != common.EntityTypeJurisdiction {
				continue
			}
			for _, childID := range graph.children[target.ID] {
				child, ok := graph.entities[childID]
				if !ok || child.Type != common.EntityTypeJurisdiction {
					continue
				}
				out = append(out, e.derive(graph, RuleHierarchical, common.Relation{
					SourceID: rel.SourceID,
					TargetID: childID,
					Type:     rel.Type,
				}, rel))
			}
		}
	}
	return out
}

// typeBased lets a child entity inherit its hierarchy parent's
// inheritable relations.
func (e *Engine) typeBased(graph *workingGraph) []derived {
	var out []derived
	for relType := range inheritableRelationTypes {
		for _, rel := range sortedEdges(graph.bySource[relType]) {
			for _, childID := range graph.children[rel.SourceID] {
				if !graph.inScope(childID) {
					continue
				}
				if childID == rel.TargetID {
					continue
				}
				out = append(out, e.derive(graph, RuleTypeBased, common.Relation{
					SourceID: childID,
					TargetID: rel.TargetID,
					Type:     rel.Type,
				}, rel))
			}
		}
	}
	return out
}

func (e *Engine) derive(graph *workingGraph, rule RuleType, r common.Relation, premises ...common.Relation) derived {
	maxPremiseDepth := 0
	for _, p := range premises {
		if d := graph.depth[p.Key()]; d > maxPremiseDepth {
			maxPremiseDepth = d
		}
	}
	r.Inferred = true
	r.Confidence = decayed(premises...)
	if graph.propagateWindows {
		r.ValidFrom, r.ValidTo = windowIntersection(premises...)
	}
	r.Metadata = map[string]any{"rule": string(rule)}
	return derived{relation: r, depth: maxPremiseDepth + 1, rule: rule}
}

// propagateProperties copies inheritable metadata keys from hierarchy
// parents to children that lack them.
func (e *Engine) propagateProperties(ctx context.Context, graph *workingGraph, mutable store.MutableStore, persist bool) (int, error) {
	count := 0
	parents := make([]string, 0, len(graph.children))
	for parentID := range graph.children {
		parents = append(parents, parentID)
	}
	sort.Strings(parents)

	for _, parentID := range parents {
		parent, ok := graph.entities[parentID]
		if !ok || parent.Metadata == nil {
			continue
		}
		for _, childID := range graph.children[parentID] {
			if !graph.inScope(childID) {
				continue
			}
			child, ok := graph.entities[childID]
			if !ok {
				continue
			}
			changed := false
			for _, key := range inheritableProperties {
				value, has := parent.Metadata[key]
				if !has {
					continue
				}
				if child.Metadata != nil {
					if _, set := child.Metadata[key]; set {
						continue
					}
				}
				if child.Metadata == nil {
					child.Metadata = make(map[string]any)
				}
				child.Metadata[key] = value
				changed = true
				count++
			}
			if changed {
				graph.entities[childID] = child
				if persist {
					if err := mutable.UpdateEntity(ctx, child); err != nil {
						return count, fmt.Errorf("failed to propagate properties to %s: %w", childID, err)
					}
				}
			}
		}
	}
	return count, nil
}

// sortedEdges flattens a by-source index in deterministic source order.
func sortedEdges(bySource map[string][]common.Relation) []common.Relation {
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	var out []common.Relation
	for _, s := range sources {
		out = append(out, bySource[s]...)
	}
	return out
}
