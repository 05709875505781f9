package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key namespaces. Retrieval results and embedding vectors live in
// separate key spaces so they can be invalidated independently.
const (
	NamespaceRetrieval = "retrieval"
	NamespaceEmbedding = "embedding"

	// RetrievalPattern matches every cached retrieval result.
	RetrievalPattern = NamespaceRetrieval + ":*"
)

// HashText creates a SHA-256 hash of the text.
func HashText(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16] // First 16 chars for brevity
}

// RetrievalKey builds the cache key for a retrieval result. The query
// is hashed rather than embedded verbatim so keys stay bounded and
// never leak query text into key listings.
func RetrievalKey(strategy, query string, k int) string {
	return fmt.Sprintf("%s:%s:%s:%d", NamespaceRetrieval, strategy, HashText(query), k)
}

// EmbeddingKey builds the cache key for an embedding vector.
func EmbeddingKey(model, text string) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceEmbedding, model, HashText(text))
}

// StrategyPattern returns the glob matching all cached results for one
// strategy, for targeted invalidation.
func StrategyPattern(strategy string) string {
	return fmt.Sprintf("%s:%s:*", NamespaceRetrieval, strategy)
}
