package routes

import (
	"encoding/json"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/inrep-lab/lexgraph/backend/internal/queue"
	"github.com/inrep-lab/lexgraph/backend/pkg/changes"
	"github.com/inrep-lab/lexgraph/backend/pkg/common"
)

// DetectChangesHandler diffs one document against stored state.
func DetectChangesHandler(c echo.Context) error {
	type detectBody struct {
		Document common.Document `json:"document" validate:"required"`
	}

	data := new(detectBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	cs, err := app(c).Detector.DetectDocumentChanges(c.Request().Context(), data.Document)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cs)
}

// DetectBatchChangesHandler diffs a document list. Individual document
// failures land in the change set's error list; the batch continues.
func DetectBatchChangesHandler(c echo.Context) error {
	type batchBody struct {
		Documents                []common.Document `json:"documents" validate:"required,min=1"`
		EnableParallelProcessing bool              `json:"enable_parallel_processing"`
		Parallelism              int               `json:"parallelism"`
	}

	data := new(batchBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	cs, err := app(c).Detector.DetectBatchChanges(c.Request().Context(), data.Documents, changes.BatchOptions{
		EnableParallelProcessing: data.EnableParallelProcessing,
		Parallelism:              data.Parallelism,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cs)
}

// ApplyChangeSetHandler applies a detected change set synchronously.
func ApplyChangeSetHandler(c echo.Context) error {
	type applyBody struct {
		ChangeSet            *common.ChangeSet `json:"change_set" validate:"required"`
		AutoResolveThreshold float64           `json:"auto_resolve_threshold"`
		DryRun               bool              `json:"dry_run"`
	}

	data := new(applyBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	result, err := app(c).Updater.ProcessChangeSet(c.Request().Context(), data.ChangeSet, changes.ApplyOptions{
		AutoResolveThreshold: data.AutoResolveThreshold,
		DryRun:               data.DryRun,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// EnqueueUpdateJobHandler queues an approved change set for async
// application by the worker.
func EnqueueUpdateJobHandler(c echo.Context) error {
	type jobBody struct {
		ChangeSet            *common.ChangeSet `json:"change_set" validate:"required"`
		AutoResolveThreshold float64           `json:"auto_resolve_threshold"`
		DryRun               bool              `json:"dry_run"`
	}

	data := new(jobBody)
	if err := bindAndValidate(c, data); err != nil {
		return respondError(c, err)
	}

	correlationID, err := gonanoid.New()
	if err != nil {
		return respondError(c, err)
	}

	msg := queue.UpdateJobMsg{
		CorrelationID:        correlationID,
		ChangeSet:            data.ChangeSet,
		AutoResolveThreshold: data.AutoResolveThreshold,
		DryRun:               data.DryRun,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return respondError(c, err)
	}
	if err := queue.PublishFIFO(app(c).Queue, queue.UpdateQueue, body); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"correlation_id": correlationID})
}
