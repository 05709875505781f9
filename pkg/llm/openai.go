package llm

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiClient implements Client using the OpenAI chat completions API.
type openaiClient struct {
	client    openaisdk.Client
	model     string
	maxTokens int64
}

func newOpenAIClient(cfg Config) *openaiClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &openaiClient{
		client:    openaisdk.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends a single-turn request and returns the text response.
func (c *openaiClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}
	messages = append(messages, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:               openaisdk.ChatModel(c.model),
		Messages:            messages,
		Temperature:         param.NewOpt(req.Temperature),
		MaxCompletionTokens: param.NewOpt(c.maxTokens),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices returned")
	}

	return completion.Choices[0].Message.Content, nil
}

// ModelName returns the model identifier in use.
func (c *openaiClient) ModelName() string {
	return c.model
}
