package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/inrep-lab/lexgraph/backend/internal/util"
	"github.com/inrep-lab/lexgraph/backend/pkg/changes"
	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/inference"
	"github.com/inrep-lab/lexgraph/backend/pkg/leaselock"
	"github.com/inrep-lab/lexgraph/backend/pkg/logger"
)

// DetectJobMsg asks the worker to run batch change detection. The
// resulting change set is forwarded to the update queue when AutoApply
// is set, otherwise only published as a status event for review.
type DetectJobMsg struct {
	CorrelationID            string            `json:"correlation_id"`
	Documents                []common.Document `json:"documents"`
	EnableParallelProcessing bool              `json:"enable_parallel_processing"`
	Parallelism              int               `json:"parallelism,omitempty"`
	AutoApply                bool              `json:"auto_apply"`
}

// UpdateJobMsg applies an approved change set.
type UpdateJobMsg struct {
	CorrelationID        string            `json:"correlation_id"`
	ChangeSet            *common.ChangeSet `json:"change_set"`
	AutoResolveThreshold float64           `json:"auto_resolve_threshold,omitempty"`
	DryRun               bool              `json:"dry_run,omitempty"`
}

// InferenceJobMsg runs batch inference, optionally scoped to entity
// batches processed in parallel.
type InferenceJobMsg struct {
	CorrelationID            string               `json:"correlation_id"`
	RuleTypes                []inference.RuleType `json:"rule_types,omitempty"`
	MaxDepth                 int                  `json:"max_depth,omitempty"`
	MinConfidence            float64              `json:"min_confidence,omitempty"`
	StoreResults             bool                 `json:"store_results"`
	EntityIDs                []string             `json:"entity_ids,omitempty"`
	BatchSize                int                  `json:"batch_size,omitempty"`
	EnableParallelProcessing bool                 `json:"enable_parallel_processing"`
}

// StatusEvent is the completion event published to the pubsub exchange
// after every job.
type StatusEvent struct {
	CorrelationID string `json:"correlation_id"`
	Job           string `json:"job"`
	Status        string `json:"status"`
	Detail        any    `json:"detail,omitempty"`
	FinishedAt    string `json:"finished_at"`
}

// Handlers processes worker jobs against the constructed engines.
type Handlers struct {
	Detector  *changes.Detector
	Updater   *changes.Updater
	Inference *inference.Engine
	Locks     *leaselock.Client
}

// ProcessDetectMessage runs batch change detection. Per-document
// failures stay inside the change set; only infrastructure errors make
// the message retry.
func (h *Handlers) ProcessDetectMessage(ctx context.Context, ch *amqp091.Channel, body []byte) error {
	var msg DetectJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode detect job: %w", err)
	}

	cs, err := h.Detector.DetectBatchChanges(ctx, msg.Documents, changes.BatchOptions{
		EnableParallelProcessing: msg.EnableParallelProcessing,
		Parallelism:              msg.Parallelism,
	})
	if err != nil {
		return fmt.Errorf("batch detection failed: %w", err)
	}
	logger.Info("[Queue] Batch detection finished",
		"correlation_id", msg.CorrelationID,
		"documents", cs.DocumentsProcessed,
		"errors", len(cs.Errors),
	)

	if msg.AutoApply && !cs.Empty() {
		update := UpdateJobMsg{CorrelationID: msg.CorrelationID, ChangeSet: cs}
		data, err := json.Marshal(update)
		if err != nil {
			return fmt.Errorf("failed to encode update job: %w", err)
		}
		if err := PublishFIFO(ch, UpdateQueue, data); err != nil {
			return fmt.Errorf("failed to forward change set: %w", err)
		}
	}

	return h.publishStatus(ch, msg.CorrelationID, "detect", cs)
}

// ProcessUpdateMessage applies an approved change set.
func (h *Handlers) ProcessUpdateMessage(ctx context.Context, ch *amqp091.Channel, body []byte) error {
	var msg UpdateJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode update job: %w", err)
	}
	if msg.ChangeSet == nil {
		return errors.New("update job carries no change set")
	}

	result, err := h.Updater.ProcessChangeSet(ctx, msg.ChangeSet, changes.ApplyOptions{
		AutoResolveThreshold: msg.AutoResolveThreshold,
		DryRun:               msg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("change set application failed: %w", err)
	}
	logger.Info("[Queue] Change set applied",
		"correlation_id", msg.CorrelationID,
		"change_set", msg.ChangeSet.ID,
		"applied", result.Applied,
		"failed", result.Failed,
		"review_items", len(result.ReviewItems),
	)

	return h.publishStatus(ch, msg.CorrelationID, "update", result)
}

// ProcessInferenceMessage runs batch inference under a lease so only
// one worker chains rules over the graph at a time.
func (h *Handlers) ProcessInferenceMessage(ctx context.Context, ch *amqp091.Channel, body []byte) error {
	var msg InferenceJobMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to decode inference job: %w", err)
	}

	var result *common.InferenceResult
	err := h.Locks.WithLease(ctx, "inference_run", leaselock.Options{
		TTL:  10 * time.Minute,
		Wait: true,
	}, func(ctx context.Context) error {
		var err error
		result, err = h.runInferenceBatches(ctx, msg)
		return err
	})
	if err != nil {
		return fmt.Errorf("inference job failed: %w", err)
	}
	logger.Info("[Queue] Inference finished",
		"correlation_id", msg.CorrelationID,
		"relationships", result.RelationshipsInferred,
		"properties", result.PropertiesInferred,
		"duration", result.ExecutionTime,
	)

	return h.publishStatus(ch, msg.CorrelationID, "inference", result)
}

// runInferenceBatches splits the scoped entities into batches and
// aggregates the per-batch results. Batches write through the engine's
// idempotent persistence, so overlap between batches cannot duplicate
// edges.
func (h *Handlers) runInferenceBatches(ctx context.Context, msg InferenceJobMsg) (*common.InferenceResult, error) {
	opts := inference.Options{
		RuleTypes:     msg.RuleTypes,
		MaxDepth:      msg.MaxDepth,
		MinConfidence: msg.MinConfidence,
		StoreResults:  msg.StoreResults,
	}

	if msg.BatchSize <= 0 || len(msg.EntityIDs) <= msg.BatchSize {
		opts.EntityIDs = msg.EntityIDs
		return h.Inference.Run(ctx, opts)
	}

	start := time.Now()
	var batches [][]string
	for offset := 0; offset < len(msg.EntityIDs); offset += msg.BatchSize {
		end := min(offset+msg.BatchSize, len(msg.EntityIDs))
		batches = append(batches, msg.EntityIDs[offset:end])
	}

	// Per-index slots keep parallel batches free of shared accumulation
	// state; idempotent persistence makes batch overlap harmless.
	results := make([]*common.InferenceResult, len(batches))
	group, groupCtx := errgroup.WithContext(ctx)
	if msg.EnableParallelProcessing {
		group.SetLimit(changes.DefaultBatchParallelism)
	} else {
		group.SetLimit(1)
	}
	for i := range batches {
		group.Go(func() error {
			batchOpts := opts
			batchOpts.EntityIDs = batches[i]
			result, err := h.Inference.Run(groupCtx, batchOpts)
			if err != nil {
				return fmt.Errorf("batch %d failed: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	total := &common.InferenceResult{}
	for _, result := range results {
		total.Relations = append(total.Relations, result.Relations...)
		total.RelationshipsInferred += result.RelationshipsInferred
		total.PropertiesInferred += result.PropertiesInferred
	}
	total.ExecutionTime = time.Since(start)
	return total, nil
}

func (h *Handlers) publishStatus(ch *amqp091.Channel, correlationID, job string, detail any) error {
	event := StatusEvent{
		CorrelationID: correlationID,
		Job:           job,
		Status:        "completed",
		Detail:        detail,
		FinishedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode status event: %w", err)
	}
	if err := util.RetryErr(3, func() error {
		return PublishTopic(ch, StatusTopic, data)
	}); err != nil {
		logger.Error("[Queue] Failed to publish status event", "correlation_id", correlationID, "err", err)
	}
	return nil
}
