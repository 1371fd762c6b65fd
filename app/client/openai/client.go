package openai

import (
	"context"
	"errors"
	"fanreply/app/config"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/do"
	sdk "github.com/sashabaranov/go-openai"
)

var ErrEmptyCompletion = errors.New("no chat completion found")

// Client is the chat completion backend. It talks to any OpenAI compatible
// endpoint and always asks for the model configured for that endpoint.
type Client struct {
	client      *sdk.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(cfg.Generation.Chat), nil
}

func New(cfg config.ModelConfig) *Client {
	return &Client{
		client:      createClient(cfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func createClient(cfg config.ModelConfig) *sdk.Client {
	clientConfig := sdk.DefaultConfig(cfg.Token)

	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
	}

	return sdk.NewClientWithConfig(clientConfig)
}

// Complete sends the system and user prompts as a two message chat. model is
// only used when the endpoint has no model of its own configured.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt, model string) (string, error) {
	if c.model != "" {
		model = c.model
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		sdk.ChatCompletionRequest{
			Model: model,
			Messages: []sdk.ChatCompletionMessage{
				{
					Role:    sdk.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    sdk.ChatMessageRoleUser,
					Content: userPrompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	result := strings.TrimSpace(resp.Choices[0].Message.Content)
	if result == "" {
		return "", ErrEmptyCompletion
	}

	return result, nil
}
