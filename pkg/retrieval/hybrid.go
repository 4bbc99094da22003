package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

const (
	DefaultKGWeight     = 0.6
	DefaultVectorWeight = 0.4
)

// ScoredResult is one ranked item of a hybrid retrieval. Exactly one of
// Fact and Chunk is set.
type ScoredResult struct {
	ID       string           `json:"id"`
	Score    float64          `json:"score"`
	Fact     *common.Fact     `json:"fact,omitempty"`
	Chunk    *common.VectorChunk `json:"chunk,omitempty"`
	Signals  []ScoreSignal    `json:"signals,omitempty"`
}

// ScoreSignal records one contribution to a result's score so rankings
// stay explainable.
type ScoreSignal struct {
	Source       string  `json:"source"`
	Raw          float64 `json:"raw"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// HybridOptions weighs the two signals.
type HybridOptions struct {
	KGWeight     float64
	VectorWeight float64
	// Explain attaches per-signal traces to every result.
	Explain bool
}

func (o *HybridOptions) normalize() error {
	if o.KGWeight == 0 && o.VectorWeight == 0 {
		o.KGWeight = DefaultKGWeight
		o.VectorWeight = DefaultVectorWeight
	}
	if o.KGWeight < 0 || o.VectorWeight < 0 {
		return common.Invalid("weights", "kgWeight and vectorWeight must not be negative")
	}
	if o.KGWeight+o.VectorWeight == 0 {
		return common.Invalid("weights", "kgWeight and vectorWeight must not both be zero")
	}
	return nil
}

// factRelevance scores a fact by graph locality: direct neighbors of an
// entry point outrank distant hops, explicit relations outrank inferred
// ones, and a stored confidence scales the result.
func factRelevance(f common.Fact) float64 {
	score := 1.0 / float64(f.Hops)
	if f.Relation.Inferred {
		score *= 0.8
	}
	if f.Relation.Confidence > 0 {
		score *= f.Relation.Confidence
	}
	return score
}

// ScoreHybrid fuses graph facts with externally scored vector chunks
// into one ranked, deduplicated list. Items carrying both signals sum
// their weighted contributions.
func ScoreHybrid(facts []common.Fact, chunks []common.VectorChunk, opts HybridOptions) ([]ScoredResult, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	results := make(map[string]*ScoredResult)

	for i := range facts {
		fact := facts[i]
		id := "fact:" + fact.Relation.Key()
		if _, dup := results[id]; dup {
			continue
		}
		raw := factRelevance(fact)
		r := &ScoredResult{
			ID:    id,
			Score: raw * opts.KGWeight,
			Fact:  &fact,
		}
		if opts.Explain {
			r.Signals = append(r.Signals, ScoreSignal{
				Source:       "knowledge-graph",
				Raw:          raw,
				Weight:       opts.KGWeight,
				Contribution: raw * opts.KGWeight,
			})
		}
		results[id] = r
	}

	for i := range chunks {
		chunk := chunks[i]
		id := "chunk:" + chunk.ID
		contribution := chunk.Score * opts.VectorWeight
		if existing, dup := results[id]; dup {
			existing.Score += contribution
			if opts.Explain {
				existing.Signals = append(existing.Signals, ScoreSignal{
					Source:       "vector",
					Raw:          chunk.Score,
					Weight:       opts.VectorWeight,
					Contribution: contribution,
				})
			}
			continue
		}
		r := &ScoredResult{
			ID:    id,
			Score: contribution,
			Chunk: &chunk,
		}
		if opts.Explain {
			r.Signals = append(r.Signals, ScoreSignal{
				Source:       "vector",
				Raw:          chunk.Score,
				Weight:       opts.VectorWeight,
				Contribution: contribution,
			})
		}
		results[id] = r
	}

	ranked := make([]ScoredResult, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, *r)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked, nil
}

// Provenance renders the source marker cited in generated answers.
func (r *ScoredResult) Provenance() string {
	return fmt.Sprintf("[source:%s]", r.ID)
}

// ContextText renders the result as grounding context for answer
// generation, prefixed with its provenance marker.
func (r *ScoredResult) ContextText() string {
	var b strings.Builder
	b.WriteString(r.Provenance())
	b.WriteString(" ")
	switch {
	case r.Fact != nil:
		fmt.Fprintf(&b, "%s -[%s]-> %s", r.Fact.Source.Name, r.Fact.Relation.Type, r.Fact.Target.Name)
		if d := r.Fact.Target.Description; d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
	case r.Chunk != nil:
		b.WriteString(r.Chunk.Text)
	}
	return b.String()
}
