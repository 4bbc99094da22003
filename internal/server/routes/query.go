package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/inrep-lab/lexgraph/backend/pkg/retrieval"
)

// FactQueryHandler resolves a free-text query to graph entry points and
// returns the candidate facts within the hop bound.
func FactQueryHandler(c echo.Context) error {
	type factBody struct {
		Query        string `json:"query" validate:"required"`
		MaxResults   int    `json:"max_results"`
		MaxHops      int    `json:"max_hops"`
		RelationType string `json:"relation_type"`
	}

	data := new(factBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	facts, err := app(c).Facts.Find(c.Request().Context(), data.Query, retrieval.FactOptions{
		MaxResults:   data.MaxResults,
		MaxHops:      data.MaxHops,
		RelationType: data.RelationType,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"query": data.Query,
		"facts": facts,
		"count": len(facts),
	})
}

// GraphRAGHandler runs the full retrieval pipeline: fact lookup,
// neighborhood enrichment and hybrid scoring.
func GraphRAGHandler(c echo.Context) error {
	if !app(c).Features.GraphRAG {
		return respondUnavailable(c, "graphrag")
	}

	type ragBody struct {
		Query                string  `json:"query" validate:"required"`
		Strategy             string  `json:"strategy"`
		MaxResults           int     `json:"max_results"`
		MaxHops              int     `json:"max_hops"`
		KGWeight             float64 `json:"kg_weight"`
		VectorWeight         float64 `json:"vector_weight"`
		EnableExplainability bool    `json:"enable_explainability"`
	}

	data := new(ragBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	result, err := app(c).Orchestrator.Query(c.Request().Context(), data.Query, retrieval.QueryOptions{
		Strategy:             data.Strategy,
		MaxResults:           data.MaxResults,
		MaxHops:              data.MaxHops,
		KGWeight:             data.KGWeight,
		VectorWeight:         data.VectorWeight,
		EnableExplainability: data.EnableExplainability,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GenerateAnswerHandler hands grounding context to the external answer
// generator. Callers either supply their own curated results or let the
// handler retrieve them; every claim in the generated text cites a
// provenance marker from that context.
func GenerateAnswerHandler(c echo.Context) error {
	if !app(c).Features.GraphRAG {
		return respondUnavailable(c, "graphrag")
	}

	type answerBody struct {
		Query        string                   `json:"query" validate:"required"`
		Results      []retrieval.ScoredResult `json:"results"`
		MaxResults   int                      `json:"max_results"`
		MaxHops      int                      `json:"max_hops"`
		KGWeight     float64                  `json:"kg_weight"`
		VectorWeight float64                  `json:"vector_weight"`
	}

	type answerResponse struct {
		Answer  *retrieval.Answer        `json:"answer"`
		Results []retrieval.ScoredResult `json:"results"`
	}

	data := new(answerBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	orchestrator := app(c).Orchestrator

	results := data.Results
	if len(results) == 0 {
		result, err := orchestrator.Query(ctx, data.Query, retrieval.QueryOptions{
			MaxResults:   data.MaxResults,
			MaxHops:      data.MaxHops,
			KGWeight:     data.KGWeight,
			VectorWeight: data.VectorWeight,
		})
		if err != nil {
			return respondError(c, err)
		}
		results = result.Results
	}

	answer, err := orchestrator.GenerateAnswer(ctx, data.Query, results)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, answerResponse{Answer: answer, Results: results})
}
