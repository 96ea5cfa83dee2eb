package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/payvat/vat-extraction-service/internal/resilience"
)

// defaultMaxTokens bounds the completion when no limit is configured.
const defaultMaxTokens = 4000

// OpenAIProvider calls an OpenAI (or compatible) chat completion endpoint with
// a multimodal message: prompt text plus the document as a data URL.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIProvider creates a provider for the given model. baseURL may be
// empty for the public API; maxTokens <= 0 selects the default.
func NewOpenAIProvider(apiKey, baseURL, model string, maxTokens int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("openai/%s", p.model)
}

// Extract implements Provider.
func (p *OpenAIProvider) Extract(ctx context.Context, prompt, fileBase64, mimeType string) (string, Usage, error) {
	start := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, fileBase64),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	usage := Usage{Latency: time.Since(start)}
	if err != nil {
		return "", usage, classifyOpenAIError(err)
	}

	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", usage, fmt.Errorf("%w: empty completion", ErrBadResponse)
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// classifyOpenAIError folds provider errors into the typed set, marking rate
// limits and server errors retryable.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %w: %w", resilience.Retryable, ErrProviderUnavailable, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		default:
			return fmt.Errorf("%w: %w", ErrBadResponse, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	// Network-level failures are worth one more try.
	return fmt.Errorf("%w: %w: %w", resilience.Retryable, ErrProviderUnavailable, err)
}
