package openai

import (
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
)

// GraphOpenAIClient implements ai.Client against OpenAI-compatible APIs.
// Embeddings and chat can point at different endpoints, so a hosted
// embedding service can be mixed with a local completion server.
type GraphOpenAIClient struct {
	embeddingModel string
	answerModel    string

	embeddingDimensions int

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams configures a new GraphOpenAIClient.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel string
	AnswerModel    string

	EmbeddingDimensions int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string
}

// NewGraphOpenAIClient creates a client with separate OpenAI clients for
// embeddings and chat.
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	return &GraphOpenAIClient{
		embeddingModel:      params.EmbeddingModel,
		answerModel:         params.AnswerModel,
		embeddingDimensions: params.EmbeddingDimensions,

		metricsLock: sync.Mutex{},

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(options...)
	return &client
}

// GetMetrics returns the accumulated usage metrics since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

// ResetMetrics clears the accumulated metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
	if c.metrics.DurationMs > 0 {
		c.metrics.TokenPerSecond = float32(float64(c.metrics.TotalTokens) * 1000.0 / float64(c.metrics.DurationMs))
	}
}
