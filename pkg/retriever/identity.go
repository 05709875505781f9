package retriever

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/siftlabs/sift/pkg/types"
)

// Content prefix lengths used for document identity. Multi-query dedups
// on a shorter prefix than ensemble fusion because expansion variants
// tend to return the exact same chunks.
const (
	dedupPrefixChars  = 500
	fusionPrefixChars = 1000
)

// contentFingerprint returns a stable identity for a document's text:
// SHA-256 over the first n characters. Stable across process restarts,
// unlike language-level hashes.
func contentFingerprint(content string, n int) string {
	sum := sha256.Sum256([]byte(prefixChars(content, n)))
	return hex.EncodeToString(sum[:])
}

// fusionIdentity keys ensemble dedup on a content prefix combined with
// the ingestion source, so identical passages from different files stay
// distinct.
func fusionIdentity(doc types.Document) string {
	source, _ := doc.Metadata[types.MetaSource].(string)
	return contentFingerprint(doc.Content, fusionPrefixChars) + "|" + source
}

// prefixChars returns the first n characters of s without splitting
// multi-byte runes.
func prefixChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// snippet truncates text for LLM prompts, appending an ellipsis when
// content was dropped.
func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
