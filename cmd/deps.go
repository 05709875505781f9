package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siftlabs/sift/pkg/cache"
	"github.com/siftlabs/sift/pkg/config"
	"github.com/siftlabs/sift/pkg/docstore"
	"github.com/siftlabs/sift/pkg/embedding"
	"github.com/siftlabs/sift/pkg/embedding/openai"
	"github.com/siftlabs/sift/pkg/eval"
	"github.com/siftlabs/sift/pkg/llm"
	"github.com/siftlabs/sift/pkg/logging"
	"github.com/siftlabs/sift/pkg/metrics"
	"github.com/siftlabs/sift/pkg/research"
	"github.com/siftlabs/sift/pkg/retriever"
	"github.com/siftlabs/sift/pkg/telemetry"
	"github.com/siftlabs/sift/pkg/types"
	"github.com/siftlabs/sift/pkg/vectorstore"
)

const version = "0.1.0"

// app bundles the wired subsystems a command runs against. Optional
// pieces (LLM client, metrics, evaluator) are nil when not configured
// and consumers degrade accordingly.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	docs      *docstore.Store
	vectors   vectorstore.Store
	kv        cache.Cache
	embedder  embedding.Provider
	llm       llm.Client
	metrics   *metrics.Metrics
	tracer    *telemetry.Provider
	factory   *retriever.Factory
	research  *research.Engine
	evaluator *eval.Evaluator
	harness   *eval.Harness
}

// buildApp wires every subsystem from the loaded configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.WithComponent("cli"),
		docs:   docstore.New(),
	}

	a.kv = buildCache(cfg, a.logger)
	a.embedder = buildEmbedder(cfg, a.kv, a.logger)

	a.vectors, err = buildVectorStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	if cfg.LLMConfigured() {
		client, err := llm.New(llm.Config{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		a.llm = client
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	a.tracer, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:    cfg.Telemetry.Tracing.Enabled,
		Exporter:   cfg.Telemetry.Tracing.Exporter,
		Endpoint:   cfg.Telemetry.Tracing.Endpoint,
		SampleRate: cfg.Telemetry.Tracing.SampleRate,
		Insecure:   cfg.Telemetry.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	deps := &retriever.Dependencies{
		Docs:       a.docs,
		Vectors:    a.vectors,
		Embedder:   a.embedder,
		LLM:        a.llm,
		Logger:     logging.WithComponent("retriever"),
		Collection: cfg.Vector.Collection,
		Retrieval:  cfg.Retrieval,
		CacheTTL:   cfg.Cache.TTL,
	}
	if cfg.Retrieval.EnableCache {
		deps.Cache = a.kv
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics
	}
	a.factory = retriever.NewFactory(deps)

	if a.llm != nil {
		a.evaluator = eval.NewEvaluator(a.llm, cfg.Eval.Temperature, nil)
		a.harness = eval.NewHarness(a.evaluator, a.llm, nil)
	}

	a.research = research.New(a.factory, a.evaluator, a.llm, a.tracer, research.Config{
		DefaultK: cfg.Retrieval.DefaultK,
	}, logging.WithComponent("research"))

	return a, nil
}

// evalSamples loads the golden dataset under the config policy: an
// explicit dataset path wins, the built-in dataset needs opting in.
func (a *app) evalSamples(limit int) ([]types.EvalSample, error) {
	if a.cfg.Eval.DatasetPath != "" {
		return eval.Load(a.cfg.Eval.DatasetPath, limit)
	}
	if a.cfg.Eval.AllowDefaultDataset {
		return eval.DefaultDataset(limit), nil
	}
	return nil, fmt.Errorf("no evaluation dataset: set eval.dataset_path or enable eval.allow_default_dataset")
}

// Close releases external connections. Errors are intentionally
// dropped: shutdown must not mask the command's own result.
func (a *app) Close(ctx context.Context) {
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
}

func buildCache(cfg *config.Config, logger *slog.Logger) cache.Cache {
	if cfg.Cache.Backend == "redis" {
		redis, err := cache.NewRedisCache(cache.RedisConfig{
			URL:        cfg.Cache.RedisURL,
			KeyPrefix:  "sift:",
			DefaultTTL: cfg.Cache.TTL,
		})
		if err == nil {
			return redis
		}
		logger.Warn("redis cache unavailable, falling back to memory", "error", err)
	}
	return cache.NewMemoryCache(cache.Config{
		MaxSize:      cfg.Cache.MaxSize,
		MaxSizeBytes: cfg.Cache.MaxSizeBytes,
		DefaultTTL:   cfg.Cache.TTL,
	})
}

func buildEmbedder(cfg *config.Config, kv cache.Cache, logger *slog.Logger) embedding.Provider {
	if cfg.Embedding.APIKey == "" {
		return nil
	}
	client, err := openai.NewClient(openai.Config{
		APIKey: cfg.Embedding.APIKey,
		Model:  cfg.Embedding.Model,
	})
	if err != nil {
		logger.Warn("embedding provider unavailable; vector strategies disabled", "error", err)
		return nil
	}
	if kv != nil && cfg.Embedding.CacheTTL > 0 {
		return embedding.NewCachedProvider(client, kv, cfg.Embedding.CacheTTL)
	}
	return client
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Addr:   cfg.Vector.Host,
			APIKey: cfg.Vector.APIKey,
			UseTLS: cfg.Vector.APIKey != "",
		})
	case "pinecone":
		return vectorstore.NewPineconeStore(ctx, vectorstore.PineconeConfig{
			APIKey:    cfg.Vector.APIKey,
			IndexName: cfg.Vector.Index,
			IndexHost: cfg.Vector.Host,
		})
	default:
		return vectorstore.NewMemoryStore(), nil
	}
}
