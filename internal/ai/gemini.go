package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider calls Google Gemini with the prompt and the document bytes as
// an inline blob. Gemini reads PDFs natively, which makes it the preferred
// backend for multi-page documents.
type GeminiProvider struct {
	apiKey    string
	model     string
	maxTokens int
}

// NewGeminiProvider creates a Gemini-backed provider. maxTokens <= 0 selects
// the default.
func NewGeminiProvider(apiKey, model string, maxTokens int) *GeminiProvider {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GeminiProvider{apiKey: apiKey, model: model, maxTokens: maxTokens}
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("gemini/%s", p.model)
}

// Extract implements Provider.
func (p *GeminiProvider) Extract(ctx context.Context, prompt, fileBase64, mimeType string) (string, Usage, error) {
	start := time.Now()

	data, err := base64.StdEncoding.DecodeString(fileBase64)
	if err != nil {
		return "", Usage{Latency: time.Since(start)}, fmt.Errorf("%w: invalid base64 payload: %w", ErrBadResponse, err)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return "", Usage{Latency: time.Since(start)}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.model)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(int32(p.maxTokens))

	resp, err := model.GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	)
	usage := Usage{Latency: time.Since(start)}
	if err != nil {
		return "", usage, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", usage, fmt.Errorf("%w: no text candidates", ErrBadResponse)
	}
	return sb.String(), usage, nil
}
