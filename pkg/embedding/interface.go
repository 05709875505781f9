package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/siftlabs/sift/pkg/cache"
)

// Common errors returned by embedding providers.
var (
	ErrEmptyInput     = errors.New("empty input text")
	ErrRateLimited    = errors.New("rate limited by embedding provider")
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrModelNotFound  = errors.New("embedding model not found")
	ErrContextTooLong = errors.New("input text exceeds model context length")
)

// Provider defines the interface for text embedding services.
type Provider interface {
	// Embed converts a single text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vector embeddings.
	// More efficient than calling Embed multiple times.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for this provider.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// CachedProvider wraps a Provider with a cache keyed by model and text
// hash. Cache failures are silent; the provider is always the fallback.
type CachedProvider struct {
	provider Provider
	cache    cache.Cache
	ttl      time.Duration
}

// NewCachedProvider creates a cached embedding provider.
func NewCachedProvider(provider Provider, c cache.Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    c,
		ttl:      ttl,
	}
}

// Embed returns a cached embedding or computes and caches it.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.EmbeddingKey(c.provider.ModelName(), text)

	if data, err := c.cache.Get(ctx, key); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil {
			return vec, nil
		}
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
	}

	return vec, nil
}

// EmbedBatch embeds multiple texts, using the cache where available and
// batching only the misses to the underlying provider.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	uncached := make([]string, 0)
	uncachedIdx := make([]int, 0)

	for i, text := range texts {
		key := cache.EmbeddingKey(c.provider.ModelName(), text)
		if data, err := c.cache.Get(ctx, key); err == nil {
			var vec []float32
			if err := json.Unmarshal(data, &vec); err == nil {
				results[i] = vec
				continue
			}
		}
		uncached = append(uncached, text)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) > 0 {
		embeddings, err := c.provider.EmbedBatch(ctx, uncached)
		if err != nil {
			return nil, err
		}

		for i, vec := range embeddings {
			results[uncachedIdx[i]] = vec

			key := cache.EmbeddingKey(c.provider.ModelName(), uncached[i])
			if data, err := json.Marshal(vec); err == nil {
				_ = c.cache.Set(ctx, key, data, c.ttl)
			}
		}
	}

	return results, nil
}

// Dimension returns the embedding dimension.
func (c *CachedProvider) Dimension() int {
	return c.provider.Dimension()
}

// ModelName returns the model name.
func (c *CachedProvider) ModelName() string {
	return c.provider.ModelName()
}
