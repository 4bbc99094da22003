package ollama

import (
	"context"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
)

const defaultDimensions = 1024

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama. Blank input maps to the
// zero vector.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	dim := c.embeddingDimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, dim), nil
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	})
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	out := make([]float32, 0, dim)
	for _, v := range res.Embeddings {
		for _, val := range v {
			if len(out) >= dim {
				break
			}
			out = append(out, float32(val))
		}
	}
	return out, nil
}
