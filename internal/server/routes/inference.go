package routes

import (
	"encoding/json"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/inrep-lab/lexgraph/backend/internal/queue"
	"github.com/inrep-lab/lexgraph/backend/pkg/inference"
)

// RunInferenceHandler runs forward-chaining inference synchronously.
func RunInferenceHandler(c echo.Context) error {
	if !app(c).Features.Inference {
		return respondUnavailable(c, "inference")
	}

	type inferenceBody struct {
		RuleTypes     []inference.RuleType `json:"rule_types"`
		MaxDepth      int                  `json:"max_depth"`
		MinConfidence float64              `json:"min_confidence"`
		StoreResults  bool                 `json:"store_results"`
		EntityIDs     []string             `json:"entity_ids"`
	}

	data := new(inferenceBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	result, err := app(c).Inference.Run(c.Request().Context(), inference.Options{
		RuleTypes:     data.RuleTypes,
		MaxDepth:      data.MaxDepth,
		MinConfidence: data.MinConfidence,
		StoreResults:  data.StoreResults,
		EntityIDs:     data.EntityIDs,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// EnqueueInferenceJobHandler hands a batch inference run to the worker
// and returns the correlation id to follow its status events.
func EnqueueInferenceJobHandler(c echo.Context) error {
	if !app(c).Features.Inference {
		return respondUnavailable(c, "inference")
	}

	type jobBody struct {
		RuleTypes                []inference.RuleType `json:"rule_types"`
		MaxDepth                 int                  `json:"max_depth"`
		MinConfidence            float64              `json:"min_confidence"`
		StoreResults             bool                 `json:"store_results"`
		EntityIDs                []string             `json:"entity_ids"`
		BatchSize                int                  `json:"batch_size"`
		EnableParallelProcessing bool                 `json:"enable_parallel_processing"`
	}

	data := new(jobBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return respondError(c, err)
	}

	msg := queue.InferenceJobMsg{
		CorrelationID:            correlationID,
		RuleTypes:                data.RuleTypes,
		MaxDepth:                 data.MaxDepth,
		MinConfidence:            data.MinConfidence,
		StoreResults:             data.StoreResults,
		EntityIDs:                data.EntityIDs,
		BatchSize:                data.BatchSize,
		EnableParallelProcessing: data.EnableParallelProcessing,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return respondError(c, err)
	}
	if err := queue.PublishFIFO(app(c).Queue, queue.InferenceQueue, body); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"correlation_id": correlationID})
}
