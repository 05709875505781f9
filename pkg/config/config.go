// Package config provides configuration file support for Sift.
// It handles loading, validation, and environment variable interpolation
// for sift.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full Sift configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Eval      EvalConfig      `mapstructure:"eval"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds transport and HTTP server settings.
type ServerConfig struct {
	Transport    string        `mapstructure:"transport"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LLMConfig holds chat model settings used by the multi-query, rerank,
// research, and evaluation paths.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BatchSize int           `mapstructure:"batch_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Host       string `mapstructure:"host"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	Namespace  string `mapstructure:"namespace"`

	// Index is the Pinecone index holding all collections. Unused by
	// other backends.
	Index string `mapstructure:"index"`
}

// CacheConfig holds retrieval cache settings.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	RedisURL     string        `mapstructure:"redis_url"`
	TTL          time.Duration `mapstructure:"ttl"`
	MaxSize      int64         `mapstructure:"max_size"`
	MaxSizeBytes int64         `mapstructure:"max_size_bytes"`
}

// RetrievalConfig holds strategy defaults.
type RetrievalConfig struct {
	DefaultK        int                `mapstructure:"default_k"`
	MaxK            int                `mapstructure:"max_k"`
	EnableCache     bool               `mapstructure:"enable_cache"`
	ScoreThreshold  float64            `mapstructure:"score_threshold"`
	ParentChunkSize int                `mapstructure:"parent_chunk_size"`
	ChildChunkSize  int                `mapstructure:"child_chunk_size"`
	ChunkOverlap    int                `mapstructure:"chunk_overlap"`
	NumQueries      int                `mapstructure:"num_queries"`
	RerankInitialK  int                `mapstructure:"rerank_initial_k"`
	EnsembleMembers []string           `mapstructure:"ensemble_members"`
	EnsembleWeights map[string]float64 `mapstructure:"ensemble_weights"`
	ParallelFusion  bool               `mapstructure:"parallel_fusion"`
	CompareTimeout  time.Duration      `mapstructure:"compare_timeout"`
}

// EvalConfig holds quality evaluator settings.
type EvalConfig struct {
	DatasetPath         string  `mapstructure:"dataset_path"`
	AllowDefaultDataset bool    `mapstructure:"allow_default_dataset"`
	Temperature         float64 `mapstructure:"temperature"`
	MaxTokens           int     `mapstructure:"max_tokens"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level              string `mapstructure:"level"`
	Format             string `mapstructure:"format"`
	PerformanceLogging bool   `mapstructure:"performance_logging"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:    "stdio",
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-3-5-haiku-20241022",
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 100,
			CacheTTL:  24 * time.Hour,
		},
		Vector: VectorConfig{
			Backend:    "qdrant",
			Host:       "localhost:6334",
			Collection: "sift_documents",
		},
		Cache: CacheConfig{
			Backend:      "memory",
			TTL:          time.Hour,
			MaxSize:      10000,
			MaxSizeBytes: 100 * 1024 * 1024,
		},
		Retrieval: RetrievalConfig{
			DefaultK:        10,
			MaxK:            50,
			EnableCache:     true,
			ScoreThreshold:  0.0,
			ParentChunkSize: 2000,
			ChildChunkSize:  400,
			ChunkOverlap:    50,
			NumQueries:      3,
			RerankInitialK:  20,
			EnsembleMembers: []string{"keyword", "vector", "rerank"},
			ParallelFusion:  true,
			CompareTimeout:  10 * time.Second,
		},
		Eval: EvalConfig{
			AllowDefaultDataset: true,
			Temperature:         0.1,
			MaxTokens:           2048,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)

	// Environment fallbacks for secrets that are rarely written into YAML
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Cache.RedisURL == "" {
		cfg.Cache.RedisURL = os.Getenv("REDIS_URL")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid. A missing LLM API key is not an error
// here; LLM-backed strategies report it when they are actually built.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	validTransports := map[string]bool{"stdio": true, "http": true, "": true}
	if !validTransports[cfg.Server.Transport] {
		errs = append(errs, fmt.Sprintf("server.transport: unsupported transport %q (supported: stdio, http)", cfg.Server.Transport))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	// LLM validation
	validLLMProviders := map[string]bool{"anthropic": true, "openai": true, "": true}
	if !validLLMProviders[cfg.LLM.Provider] {
		errs = append(errs, fmt.Sprintf("llm.provider: unsupported provider %q (supported: anthropic, openai)", cfg.LLM.Provider))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, "llm.max_tokens: must be non-negative")
	}

	// Embedding validation
	if cfg.Embedding.BatchSize < 0 {
		errs = append(errs, "embedding.batch_size: must be non-negative")
	}

	// Vector store validation
	validBackends := map[string]bool{"qdrant": true, "pinecone": true, "memory": true, "": true}
	if !validBackends[cfg.Vector.Backend] {
		errs = append(errs, fmt.Sprintf("vector.backend: unsupported backend %q (supported: qdrant, pinecone, memory)", cfg.Vector.Backend))
	}
	if cfg.Vector.Collection == "" {
		errs = append(errs, "vector.collection: must not be empty")
	}
	if cfg.Vector.Backend == "pinecone" && cfg.Vector.Index == "" && cfg.Vector.Host == "" {
		errs = append(errs, "vector.index: required when vector.backend is pinecone (or set vector.host to the index host)")
	}

	// Cache validation
	validCacheBackends := map[string]bool{"memory": true, "redis": true, "": true}
	if !validCacheBackends[cfg.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("cache.backend: unsupported backend %q (supported: memory, redis)", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisURL == "" {
		errs = append(errs, "cache.redis_url: required when cache.backend is redis")
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl: must be non-negative")
	}

	// Retrieval validation
	if cfg.Retrieval.DefaultK < 1 {
		errs = append(errs, fmt.Sprintf("retrieval.default_k: must be at least 1, got %d", cfg.Retrieval.DefaultK))
	}
	if cfg.Retrieval.MaxK < cfg.Retrieval.DefaultK {
		errs = append(errs, "retrieval.max_k: must be >= retrieval.default_k")
	}
	if cfg.Retrieval.ScoreThreshold < 0 || cfg.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Sprintf("retrieval.score_threshold: must be between 0 and 1, got %f", cfg.Retrieval.ScoreThreshold))
	}
	if cfg.Retrieval.ChildChunkSize > cfg.Retrieval.ParentChunkSize {
		errs = append(errs, "retrieval.child_chunk_size: must not exceed retrieval.parent_chunk_size")
	}
	if cfg.Retrieval.ChunkOverlap < 0 || cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChildChunkSize {
		errs = append(errs, "retrieval.chunk_overlap: must be non-negative and smaller than child_chunk_size")
	}
	if cfg.Retrieval.NumQueries < 1 {
		errs = append(errs, "retrieval.num_queries: must be at least 1")
	}
	for name, w := range cfg.Retrieval.EnsembleWeights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("retrieval.ensemble_weights.%s: must be non-negative, got %f", name, w))
		}
	}

	// Eval validation
	if cfg.Eval.Temperature < 0 || cfg.Eval.Temperature > 1 {
		errs = append(errs, fmt.Sprintf("eval.temperature: must be between 0 and 1, got %f", cfg.Eval.Temperature))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level: unsupported level %q (supported: debug, info, warn, error)", cfg.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format: unsupported format %q (supported: json, text)", cfg.Logging.Format))
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// LLMConfigured reports whether an API key is present for the chat model.
// Strategies that need the LLM surface a config error when this is false;
// the health probe reports configuration as degraded.
func (c *Config) LLMConfigured() bool {
	return c.LLM.APIKey != ""
}

// EnsembleWeight returns the configured weight for a sub-strategy,
// defaulting to 1.0.
func (c *Config) EnsembleWeight(name string) float64 {
	return c.Retrieval.EnsembleWeight(name)
}

// EnsembleWeight returns the configured weight for a sub-strategy,
// defaulting to 1.0.
func (r RetrievalConfig) EnsembleWeight(name string) float64 {
	if w, ok := r.EnsembleWeights[name]; ok {
		return w
	}
	return 1.0
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Transport = InterpolateEnv(cfg.Server.Transport)
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)

	cfg.LLM.Provider = InterpolateEnv(cfg.LLM.Provider)
	cfg.LLM.APIKey = InterpolateEnv(cfg.LLM.APIKey)
	cfg.LLM.Model = InterpolateEnv(cfg.LLM.Model)

	cfg.Embedding.APIKey = InterpolateEnv(cfg.Embedding.APIKey)
	cfg.Embedding.Model = InterpolateEnv(cfg.Embedding.Model)

	cfg.Vector.Backend = InterpolateEnv(cfg.Vector.Backend)
	cfg.Vector.Host = InterpolateEnv(cfg.Vector.Host)
	cfg.Vector.APIKey = InterpolateEnv(cfg.Vector.APIKey)
	cfg.Vector.Collection = InterpolateEnv(cfg.Vector.Collection)
	cfg.Vector.Namespace = InterpolateEnv(cfg.Vector.Namespace)

	cfg.Cache.Backend = InterpolateEnv(cfg.Cache.Backend)
	cfg.Cache.RedisURL = InterpolateEnv(cfg.Cache.RedisURL)

	cfg.Eval.DatasetPath = InterpolateEnv(cfg.Eval.DatasetPath)

	cfg.Logging.Level = InterpolateEnv(cfg.Logging.Level)
	cfg.Logging.Format = InterpolateEnv(cfg.Logging.Format)

	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a sift.yaml file.
func GenerateTemplate() string {
	return `# Sift Configuration

server:
  transport: stdio     # stdio or http (MCP transport)
  host: 0.0.0.0
  port: 8080
  read_timeout: 30s
  write_timeout: 60s

llm:
  provider: anthropic  # anthropic or openai
  api_key: ${ANTHROPIC_API_KEY}
  model: claude-3-5-haiku-20241022
  max_tokens: 4096

embedding:
  api_key: ${OPENAI_API_KEY}
  model: text-embedding-3-small
  batch_size: 100
  cache_ttl: 24h

vector:
  backend: qdrant      # qdrant, pinecone, or memory
  host: ${QDRANT_HOST:-localhost:6334}
  api_key: ""
  collection: sift_documents
  namespace: ""
  index: ""            # pinecone index name (pinecone backend only)

cache:
  backend: memory      # memory or redis
  redis_url: ${REDIS_URL:-}
  ttl: 1h
  max_size: 10000
  max_size_bytes: 104857600

retrieval:
  default_k: 10
  max_k: 50
  enable_cache: true
  score_threshold: 0.0
  parent_chunk_size: 2000
  child_chunk_size: 400
  chunk_overlap: 50
  num_queries: 3
  rerank_initial_k: 20
  ensemble_members: [keyword, vector, rerank]
  # ensemble_weights:
  #   keyword: 1.0
  #   vector: 1.0
  #   rerank: 1.0
  parallel_fusion: true
  compare_timeout: 10s

eval:
  dataset_path: ""     # JSONL file of {"question", "ground_truth", "domain"}
  allow_default_dataset: true
  temperature: 0.1
  max_tokens: 2048

logging:
  level: info          # debug, info, warn, error
  format: json         # json or text
  performance_logging: false

metrics:
  enabled: true
  path: /metrics

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
