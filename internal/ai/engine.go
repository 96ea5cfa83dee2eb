package ai

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/payvat/vat-extraction-service/internal/resilience"
)

// EngineInput is the per-document payload handed to an extraction engine.
type EngineInput struct {
	FileBase64 string
	MimeType   string
	Category   string
	Debug      bool
}

// Engine is one extraction strategy. The orchestrator tries engines in a fixed
// fallback order (enhanced first, then legacy).
type Engine interface {
	Name() string
	Extract(ctx context.Context, in EngineInput) (string, error)
}

// VisionEngine sends a prompt plus the document to a vision Provider, bounded
// by a timeout and wrapped in the shared retry/breaker executor. The enhanced
// and legacy engines differ only in prompt and name.
type VisionEngine struct {
	name     string
	provider Provider
	exec     *resilience.Executor
	timeout  time.Duration
	promptFn func(mimeType, category string, debug bool) string
	log      zerolog.Logger
}

// NewEnhancedEngine builds the primary engine with the full prompt.
func NewEnhancedEngine(provider Provider, exec *resilience.Executor, timeout time.Duration, log zerolog.Logger) *VisionEngine {
	return &VisionEngine{
		name:     "enhanced",
		provider: provider,
		exec:     exec,
		timeout:  timeout,
		promptFn: BuildPrompt,
		log:      log,
	}
}

// NewLegacyEngine builds the fallback engine with the compact prompt.
func NewLegacyEngine(provider Provider, exec *resilience.Executor, timeout time.Duration, log zerolog.Logger) *VisionEngine {
	return &VisionEngine{
		name:     "legacy",
		provider: provider,
		exec:     exec,
		timeout:  timeout,
		promptFn: func(mimeType, category string, _ bool) string {
			return BuildLegacyPrompt(mimeType, category)
		},
		log:      log,
	}
}

func (e *VisionEngine) Name() string { return e.name }

// OrderEngines applies the default-engine setting: "legacy" puts the legacy
// engine first with the enhanced engine as fallback, anything else keeps the
// standard enhanced-first order.
func OrderEngines(defaultEngine string, enhanced, legacy Engine) (primary, fallback Engine) {
	if strings.EqualFold(strings.TrimSpace(defaultEngine), "legacy") {
		return legacy, enhanced
	}
	return enhanced, legacy
}

// Extract implements Engine.
func (e *VisionEngine) Extract(ctx context.Context, in EngineInput) (string, error) {
	prompt := e.promptFn(in.MimeType, in.Category, in.Debug)

	var output string
	err := e.exec.Execute(ctx, e.name, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		raw, usage, err := e.provider.Extract(callCtx, prompt, in.FileBase64, in.MimeType)

		// Usage telemetry is fire-and-forget; it never gates the result.
		e.log.Info().
			Str("engine", e.name).
			Str("provider", e.provider.Name()).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Dur("latency", usage.Latency).
			Bool("success", err == nil).
			Msg("ai call completed")

		if err != nil {
			return err
		}
		output = raw
		return nil
	})
	if err != nil {
		return "", err
	}
	return output, nil
}
