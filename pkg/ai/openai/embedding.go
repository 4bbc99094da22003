package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
)

const defaultDimensions = 1536

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. Blank input maps to the zero
// vector instead of a wasted API round trip.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	dim := c.embeddingDimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, dim), nil
	}
	if c.EmbeddingClient == nil {
		return nil, fmt.Errorf("no embedding client configured")
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(string(input)),
		},
		Dimensions: openai.Int(int64(dim)),
	})
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data))
	}
	out := make([]float32, len(response.Data[0].Embedding))
	for i, v := range response.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
