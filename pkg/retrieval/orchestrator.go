package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
	"github.com/inrep-lab/lexgraph/backend/pkg/traverse"
)

// Strategy names for the orchestrated pipeline.
const (
	StrategyFactFirst = "fact-first"
	StrategyHybrid    = "hybrid"

	enrichmentSeeds = 3
	chunkLimit      = 10
)

// QueryOptions configures one GraphRAG query.
type QueryOptions struct {
	Strategy             string
	MaxResults           int
	MaxHops              int
	KGWeight             float64
	VectorWeight         float64
	EnableExplainability bool
}

// QueryResult is the ranked, explainable outcome of a GraphRAG query.
// Every result carries a provenance pointer to its originating fact or
// chunk.
type QueryResult struct {
	Query         string         `json:"query"`
	Strategy      string         `json:"strategy"`
	Results       []ScoredResult `json:"results"`
	FactCount     int            `json:"fact_count"`
	ChunkCount    int            `json:"chunk_count"`
	RetrievalTime time.Duration  `json:"retrieval_time"`
}

// Answer is generated prose grounded in retrieval results. Sources lists
// the provenance markers of every context entry handed to the generator.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// Orchestrator composes fact-first retrieval, traversal-based
// neighborhood enrichment and hybrid scoring, optionally handing the
// fused context to the external answer generator.
type Orchestrator struct {
	store     store.GraphStore
	facts     *FactFinder
	traversal *traverse.Engine
	aiClient  ai.Client
}

// NewOrchestrator wires the pipeline. aiClient may be nil; then vector
// enrichment and answer generation are skipped.
func NewOrchestrator(s store.GraphStore, traversal *traverse.Engine, aiClient ai.Client) *Orchestrator {
	return &Orchestrator{
		store:     s,
		facts:     NewFactFinder(s),
		traversal: traversal,
		aiClient:  aiClient,
	}
}

// Query runs the retrieval pipeline: fact lookup, contextual enrichment,
// then hybrid scoring.
func (o *Orchestrator) Query(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error) {
	start := time.Now()

	if opts.Strategy == "" {
		opts.Strategy = StrategyHybrid
	}
	if opts.Strategy != StrategyFactFirst && opts.Strategy != StrategyHybrid {
		return nil, common.Invalid("strategy", "must be %s or %s", StrategyFactFirst, StrategyHybrid)
	}

	factOpts := FactOptions{MaxResults: opts.MaxResults, MaxHops: opts.MaxHops}
	facts, err := o.facts.Find(ctx, query, factOpts)
	if err != nil {
		return nil, err
	}

	enriched, err := o.enrich(ctx, facts)
	if err != nil {
		return nil, err
	}
	facts = append(facts, enriched...)

	var chunks []common.VectorChunk
	if opts.Strategy == StrategyHybrid {
		chunks, err = o.vectorChunks(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	ranked, err := ScoreHybrid(facts, chunks, HybridOptions{
		KGWeight:     opts.KGWeight,
		VectorWeight: opts.VectorWeight,
		Explain:      opts.EnableExplainability,
	})
	if err != nil {
		return nil, err
	}
	if opts.MaxResults > 0 && len(ranked) > opts.MaxResults {
		ranked = ranked[:opts.MaxResults]
	}

	return &QueryResult{
		Query:         query,
		Strategy:      opts.Strategy,
		Results:       ranked,
		FactCount:     len(facts),
		ChunkCount:    len(chunks),
		RetrievalTime: time.Since(start),
	}, nil
}

// enrich expands the immediate neighborhood of the top fact sources so
// context adjacent to a strong match is not lost.
func (o *Orchestrator) enrich(ctx context.Context, facts []common.Fact) ([]common.Fact, error) {
	seen := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		seen[f.Relation.Key()] = struct{}{}
	}

	var enriched []common.Fact
	entities := make(map[string]common.Entity, len(facts)*2)
	for _, f := range facts {
		entities[f.Source.ID] = f.Source
		entities[f.Target.ID] = f.Target
	}

	seeds := 0
	for _, f := range facts {
		if seeds >= enrichmentSeeds {
			break
		}
		seeds++
		result, err := o.traversal.Traverse(ctx, f.Source.ID, traverse.Options{MaxDepth: 1})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, n := range result.Nodes {
			entities[n.ID] = n
		}
		for _, edge := range result.Edges {
			if _, dup := seen[edge.Key()]; dup {
				continue
			}
			seen[edge.Key()] = struct{}{}
			enriched = append(enriched, common.Fact{
				Source:   entities[edge.SourceID],
				Relation: edge,
				Target:   entities[edge.TargetID],
				Hops:     f.Hops + 1,
			})
		}
	}
	return enriched, nil
}

// vectorChunks asks the embedding collaborator to vectorize the query
// and the store to score stored chunks against it. Missing capabilities
// degrade to fact-only retrieval instead of failing the query.
func (o *Orchestrator) vectorChunks(ctx context.Context, query string) ([]common.VectorChunk, error) {
	if o.aiClient == nil {
		return nil, nil
	}
	vectorStore, err := store.Vector(o.store)
	if err != nil {
		return nil, nil
	}
	embedding, err := o.aiClient.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vectorStore.SearchSimilarChunks(ctx, embedding, chunkLimit)
}

// GenerateAnswer hands the fused context to the external generator.
// Every context line carries its provenance marker, and the returned
// answer lists the markers of everything the generator saw.
func (o *Orchestrator) GenerateAnswer(ctx context.Context, query string, results []ScoredResult, opts ...ai.GenerateOption) (*Answer, error) {
	if o.aiClient == nil {
		return nil, fmt.Errorf("answer generation: %w", store.ErrUnsupported)
	}
	if len(results) == 0 {
		return &Answer{Text: "No relevant facts or documents were found for this question.", Sources: []string{}}, nil
	}

	var contextLines []string
	sources := make([]string, 0, len(results))
	for i := range results {
		contextLines = append(contextLines, results[i].ContextText())
		sources = append(sources, results[i].ID)
	}

	prompt := fmt.Sprintf(ai.AnswerPrompt, strings.Join(contextLines, "\n"))
	generateOpts := append([]ai.GenerateOption{ai.WithSystemPrompts(prompt)}, opts...)

	text, err := o.aiClient.GenerateChat(ctx, []ai.ChatMessage{{Role: "user", Message: query}}, generateOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return &Answer{Text: text, Sources: sources}, nil
}
