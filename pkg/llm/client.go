// Package llm wraps an OpenAI-compatible chat-completion backend. One call
// per request, no retries, no streaming.
package llm

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/logger"
	"github.com/agentmesh/agentgate/pkg/types/chat"
)

// Request is a normalized upstream chat-completion request.
type Request struct {
	Model       string
	Messages    []chat.Message
	Temperature float32
	MaxTokens   int
}

// Response is a normalized upstream chat-completion response: the first
// choice's message plus token usage.
type Response struct {
	Message chat.Message
	Usage   chat.Usage
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	api *openai.Client
}

// NewClient creates a client for the configured backend.
func NewClient(settings config.LLMSettings) *Client {
	cfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}

	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// ChatCompletion performs a single upstream chat-completion call.
func (c *Client) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, errors.New("chat completion request must include a model")
	}

	logger.G(ctx).WithFields(map[string]any{
		"model":    req.Model,
		"messages": len(req.Messages),
	}).Debug("sending chat completion request")

	out, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat completion request failed")
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("upstream returned no choices")
	}

	message := out.Choices[0].Message
	return &Response{
		Message: chat.Message{
			Role:    message.Role,
			Content: message.Content,
		},
		Usage: chat.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

func toOpenAIMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		})
	}
	return converted
}
