package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/shoptalk/shoptalk/db"
	httpapi "github.com/shoptalk/shoptalk/internal/api"
	"github.com/shoptalk/shoptalk/internal/chat"
	"github.com/shoptalk/shoptalk/internal/commerce"
	"github.com/shoptalk/shoptalk/internal/config"
	"github.com/shoptalk/shoptalk/internal/knowledge"
	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/model"
	"github.com/shoptalk/shoptalk/internal/session"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Sessions = session.NewStore(logger)
	a.Knowledge = knowledge.New(knowledge.NewPgxQuerier(pool), embedder, logger)
	a.Commerce = commerce.New(commerce.NewPgxQuerier(pool), cfg.RetrievalTimeout, logger)

	a.Model = model.NewHandle(g, qualifiedModelName(cfg), model.Options{
		MaxConcurrent: int64(cfg.MaxConcurrentGenerations),
		Logger:        logger,
	})

	agent, err := chat.New(chat.Config{
		Sessions:         a.Sessions,
		Commerce:         a.Commerce,
		Knowledge:        a.Knowledge,
		Generator:        a.Model,
		Logger:           logger,
		RetrievalTimeout: cfg.RetrievalTimeout,
		TopK:             cfg.RetrievalTopK,
		MinScore:         float64(cfg.RetrievalMinScore),
		MaxTokens:        cfg.MaxTokens,
		Temperature:      float64(cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	a.Agent = agent

	var origin string
	if len(cfg.CORSOrigins) > 0 {
		origin = cfg.CORSOrigins[0]
	}
	server, err := httpapi.NewServer(httpapi.Config{
		Agent:              agent,
		Sessions:           a.Sessions,
		Logger:             logger,
		AllowedOrigin:      origin,
		RateLimitPerSecond: cfg.RatePerSecond,
		RateLimitBurst:     cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export to a local Datadog agent.
// Must run before genkit initialization so the tracer provider is ready.
// Returns a no-op cleanup when tracing is disabled or the exporter cannot
// be created; tracing is never a startup blocker.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	dd := cfg.Datadog
	if !dd.Enabled {
		return func() {}
	}

	agentHost := dd.AgentHost
	if agentHost == "" {
		agentHost = "localhost:4318"
	}

	// Genkit's tracer provider reads these at init.
	if dd.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", dd.ServiceName)
	}
	if dd.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+dd.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(), // local agent, no TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)
	logger.Debug("datadog tracing enabled",
		"agent", agentHost, "service", dd.ServiceName, "environment", dd.Environment)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes genkit with the configured AI provider.
// Supports ollama (default), googleai, and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit with googleai provider", "model", cfg.ModelName)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // ollama
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models register explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // ollama embedders are keyed by server address
		return ollama.Embedder(g, cfg.OllamaHost)
	}
}

// qualifiedModelName prefixes the model name with its provider, the form
// genkit resolves at generation time.
func qualifiedModelName(cfg *config.Config) string {
	return cfg.Provider + "/" + cfg.ModelName
}
