// Package ai defines the external AI surface this service consumes:
// embedding generation for similarity scoring and text generation for
// answer synthesis. Both are opaque collaborator calls; the engine never
// inspects how the vectors or the prose are produced.
package ai

import "context"

// ChatMessage is a single message in a chat conversation.
//
// Role must be "user" or "assistant".
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// GenerateOptions holds configuration for generation requests.
type GenerateOptions struct {
	Model         string
	SystemPrompts []string
	Temperature   float64
}

// GenerateOption is a functional option for generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// ModelMetrics accumulates token usage and timing across calls.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Client is implemented by the OpenAI and Ollama adapters. One adapter is
// selected at startup and injected everywhere; callers never branch on
// which backend they talk to.
type Client interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
	GenerateChat(ctx context.Context, msgs []ChatMessage, opts ...GenerateOption) (string, error)
}

// AnswerPrompt grounds answer generation in retrieved facts and chunks.
// The generator must only use the provided context and cite the source
// markers verbatim so every claim stays traceable.
const AnswerPrompt = `You are answering a question about government policy and legal documents.
Use ONLY the facts and text excerpts provided below. Every statement you make
must cite the [source:ID] marker of the fact or excerpt it came from. If the
provided context does not answer the question, say so instead of guessing.

Context:
%s`
