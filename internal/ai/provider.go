package ai

import (
	"context"
	"errors"
	"time"
)

// Usage is the provider-side cost of one extraction call, emitted as telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Provider errors. Engines and the orchestrator branch on these instead of
// inspecting provider-specific error types.
var (
	// ErrProviderUnavailable covers auth failures, rate limits and timeouts:
	// anything where the provider itself could not serve the call.
	ErrProviderUnavailable = errors.New("ai provider unavailable")

	// ErrBadResponse covers calls that completed but returned no usable text.
	ErrBadResponse = errors.New("ai provider returned no usable output")
)

// Provider abstracts a vision-capable chat completion backend. Implementations
// must return a typed error, never panic, and must respect ctx cancellation.
type Provider interface {
	Name() string

	// Extract sends the prompt together with the base64-encoded document and
	// returns the raw model output. The caller bounds the call with a context
	// timeout.
	Extract(ctx context.Context, prompt, fileBase64, mimeType string) (string, Usage, error)
}
