package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	genkitapi "github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tidegraph/tidegraph/db"
	"github.com/tidegraph/tidegraph/internal/api"
	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/engine"
	"github.com/tidegraph/tidegraph/internal/graph"
	"github.com/tidegraph/tidegraph/internal/ingest"
	"github.com/tidegraph/tidegraph/internal/llm"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/rag"
	"github.com/tidegraph/tidegraph/internal/trace"
	"github.com/tidegraph/tidegraph/internal/vector"
)

// Setup builds the application. On error every resource initialized so far
// is released; on success the caller owns Close.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.New(log.Config{Level: parseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	tracer, tracingConfigured, otelShutdown, err := provideTracer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

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

	a.LLM, err = llm.New(g, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Chats, err = chat.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Resolver, err = engine.NewResolver(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Checker, err = engine.NewChecker(pool, tracingConfigured)
	if err != nil {
		return nil, err
	}
	a.Graph, err = graph.NewStore(pool, embedder, a.LLM, logger)
	if err != nil {
		return nil, err
	}
	a.Vector, err = vector.NewEngine(pool, embedder, a.LLM, logger)
	if err != nil {
		return nil, err
	}
	a.Ingestor = ingest.NewIngestor(pool, embedder, nil, logger)

	a.Service, err = rag.NewChatService(a.Chats, a.Resolver, a.Graph, a.Vector, a.LLM, tracer, logger)
	if err != nil {
		return nil, err
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:     logger,
		Service:    a.Service,
		Chats:      a.Chats,
		Checker:    a.Checker,
		TrustProxy: cfg.TrustProxy,
	})
	if err != nil {
		return nil, err
	}
	a.Handler = server.Handler()

	return a, nil
}

// provideTracer sets up OTLP span export when an endpoint is configured and
// returns the turn tracer. Without an endpoint a no-op tracer is used and
// the optional capability check reports tracing as absent.
func provideTracer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (trace.Tracer, bool, func(), error) {
	if cfg.OTLPEndpoint == "" {
		return trace.Noop{}, false, func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, false, nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
	return trace.NewOTel(tp.Tracer("tidegraph"), cfg.TraceViewerBase), true, shutdown, nil
}

// provideDBPool runs migrations and creates the connection pool with
// pgvector types registered on every connection.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

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

// provideGenkit initializes genkit with the configured provider. Ollama
// needs explicit model and embedder registration; the hosted providers
// discover models by name.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		if cfg.FastModel() != cfg.ModelName {
			ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
				Name: cfg.FastModel(),
				Type: "chat",
			}, nil)
		}
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini / googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, genkitapi.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
