package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/payvat/vat-extraction-service/api"
	"github.com/payvat/vat-extraction-service/internal/ai"
	"github.com/payvat/vat-extraction-service/internal/auth"
	"github.com/payvat/vat-extraction-service/internal/cache"
	"github.com/payvat/vat-extraction-service/internal/db"
	"github.com/payvat/vat-extraction-service/internal/logger"
	"github.com/payvat/vat-extraction-service/internal/models"
	"github.com/payvat/vat-extraction-service/internal/processing"
	"github.com/payvat/vat-extraction-service/internal/resilience"
	"github.com/payvat/vat-extraction-service/internal/storage"
)

func main() {
	// Local development convenience; the file is absent in containers.
	_ = godotenv.Load()

	logger.Setup()
	log := logger.WithComponent("server")

	config, err := loadConfig(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer pool.Close()
	store := db.NewStore(pool)
	log.Info().Msg("database connection pool initialized")

	var processorCache processing.Cache
	var cachePinger api.Pinger
	invalidator, err := cache.NewInvalidator(ctx, config.Redis, logger.WithComponent("cache"))
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, dashboard cache invalidation disabled")
	} else {
		defer invalidator.Close()
		processorCache = invalidator
		cachePinger = invalidator
		log.Info().Str("addr", config.Redis.Addr).Msg("redis cache connected")
	}

	var archiver processing.Archiver
	var archiveLinker api.ArchiveLinker
	minioArchiver, err := storage.NewArchiver(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("object storage unavailable, document archival disabled")
	} else {
		archiver = minioArchiver
		archiveLinker = minioArchiver
		log.Info().Msg("object storage archiver initialized")
	}

	provider, legacyProvider, err := buildProviders(config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure extraction provider")
	}

	exec := resilience.NewExecutor(resilience.DefaultConfig(), logger.WithComponent("resilience"))
	timeout := time.Duration(config.AI.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	engineLog := logger.WithComponent("ai")
	enhanced := ai.NewEnhancedEngine(provider, exec, timeout, engineLog)
	legacy := ai.NewLegacyEngine(legacyProvider, exec, timeout, engineLog)
	primary, fallback := ai.OrderEngines(config.AI.DefaultEngine, enhanced, legacy)

	processor := processing.NewProcessor(
		store, primary, fallback, processorCache, archiver,
		decimal.NewFromFloat(config.VAT.StandardRate),
		logger.WithComponent("processing"),
	)

	verifier := auth.NewVerifier(logger.WithComponent("auth"))
	handler := api.NewHandler(config, processor, store, verifier, cachePinger, archiveLinker, logger.WithComponent("api"))
	router := handler.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // extraction calls dominate request time
		IdleTimeout:  2 * time.Minute,
	}

	log.Info().
		Str("addr", addr).
		Str("version", api.Version).
		Str("provider", config.AI.DefaultProvider).
		Float64("standard_rate", config.VAT.StandardRate).
		Msg("starting VAT extraction service")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// buildProviders returns the vision backends for the enhanced and legacy
// engines. With OpenAI both engines share a backend but may differ in model;
// Gemini serves both engines with one model.
func buildProviders(config *models.Config) (ai.Provider, ai.Provider, error) {
	switch config.AI.DefaultProvider {
	case "", "openai":
		if config.AI.OpenAI.APIKey == "" {
			return nil, nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		model := config.AI.OpenAI.Model
		if model == "" {
			model = "gpt-4o"
		}
		legacyModel := config.AI.OpenAI.LegacyModel
		if legacyModel == "" {
			legacyModel = model
		}
		primary := ai.NewOpenAIProvider(config.AI.OpenAI.APIKey, config.AI.OpenAI.BaseURL, model, config.AI.MaxTokens)
		fallback := ai.NewOpenAIProvider(config.AI.OpenAI.APIKey, config.AI.OpenAI.BaseURL, legacyModel, config.AI.MaxTokens)
		return primary, fallback, nil
	case "gemini":
		if config.AI.Gemini.APIKey == "" {
			return nil, nil, fmt.Errorf("gemini provider selected but no API key configured")
		}
		model := config.AI.Gemini.Model
		if model == "" {
			model = "gemini-1.5-flash"
		}
		provider := ai.NewGeminiProvider(config.AI.Gemini.APIKey, model, config.AI.MaxTokens)
		return provider, provider, nil
	default:
		return nil, nil, fmt.Errorf("unknown AI provider %q", config.AI.DefaultProvider)
	}
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

func loadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides for containerized deployments.
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if os.Getenv("DEVELOPMENT") == "true" {
		config.Development = true
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		config.AI.DefaultProvider = provider
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}

	if config.Port == 0 {
		config.Port = 8080
	}
	if config.VAT.StandardRate <= 0 {
		config.VAT.StandardRate = 0.23
	}
	return &config, nil
}
