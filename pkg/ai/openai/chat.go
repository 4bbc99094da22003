package openai

import (
	"fmt"
	"time"

	"context"

	"github.com/openai/openai-go/v3"

	"github.com/inrep-lab/lexgraph/backend/pkg/ai"
)

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated text.
func (c *GraphOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.answerModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	return c.complete(ctx, options, msgs)
}

// GenerateChat sends a multi-turn conversation to the chat model.
func (c *GraphOpenAIClient) GenerateChat(
	ctx context.Context,
	chat []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.answerModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	for _, m := range chat {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Message))
		default:
			msgs = append(msgs, openai.UserMessage(m.Message))
		}
	}

	return c.complete(ctx, options, msgs)
}

func (c *GraphOpenAIClient) complete(
	ctx context.Context,
	options ai.GenerateOptions,
	msgs []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	if c.ChatClient == nil {
		return "", fmt.Errorf("no chat client configured")
	}

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return response.Choices[0].Message.Content, nil
}
