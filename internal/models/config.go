package models

// Config represents the service configuration, loaded from config.yaml with
// environment overrides applied in cmd/server.
type Config struct {
	Port        int    `yaml:"port"`
	Host        string `yaml:"host"`
	Development bool   `yaml:"development"`

	AI  AIConfig  `yaml:"ai"`
	VAT VATConfig `yaml:"vat"`

	Redis RedisConfig `yaml:"redis"`
}

// AIConfig selects the provider and engine defaults for extraction.
type AIConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`

	// DefaultProvider picks which vision backend serves both engines:
	// "openai" or "gemini".
	DefaultProvider string `yaml:"default_provider"`

	// DefaultEngine is the engine tried first: "enhanced" or "legacy".
	DefaultEngine string `yaml:"default_engine"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxTokens      int `yaml:"max_tokens"`
}

// OpenAIConfig for OpenAI or compatible endpoints.
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url,omitempty"`
	Model       string `yaml:"model"`        // enhanced engine, default gpt-4o
	LegacyModel string `yaml:"legacy_model"` // legacy engine fallback
}

// GeminiConfig for Google Gemini.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// VATConfig carries the jurisdiction rate table used by prompts and the
// VAT-derived total estimate.
type VATConfig struct {
	// StandardRate as a fraction, e.g. 0.23 for Ireland.
	StandardRate float64 `yaml:"standard_rate"`
}

// RedisConfig for the dashboard aggregate cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}
