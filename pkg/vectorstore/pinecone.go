package vectorstore

import (
	"context"
	"fmt"
	stdmath "math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/siftlabs/sift/pkg/types"
)

// PineconeConfig holds Pinecone connection configuration. Collections
// map to namespaces within a single index.
type PineconeConfig struct {
	// APIKey authenticates with Pinecone (required).
	APIKey string

	// IndexName is the Pinecone index holding all collections.
	IndexName string

	// IndexHost skips index resolution when set.
	IndexHost string

	// Retry settings for upserts.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PineconeStore implements Store over the Pinecone gRPC API.
type PineconeStore struct {
	cfg  PineconeConfig
	pc   *pinecone.Client
	host string

	mu    sync.Mutex
	conns map[string]*pinecone.IndexConnection

	upserted int64
	failed   int64
	retries  int64
}

// NewPineconeStore connects to Pinecone and returns a Store.
func NewPineconeStore(ctx context.Context, cfg PineconeConfig) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone: API key is required")
	}
	if cfg.IndexName == "" && cfg.IndexHost == "" {
		return nil, fmt.Errorf("pinecone: index name or host is required")
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone: failed to create client: %w", err)
	}

	host := cfg.IndexHost
	if host == "" {
		idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone: failed to describe index %q: %w", cfg.IndexName, err)
		}
		host = idx.Host
	}

	return &PineconeStore{
		cfg:   cfg,
		pc:    pc,
		host:  host,
		conns: make(map[string]*pinecone.IndexConnection),
	}, nil
}

// connFor returns a connection scoped to the namespace, creating it on
// first use.
func (s *PineconeStore) connFor(collection string) (*pinecone.IndexConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.conns[collection]; ok {
		return conn, nil
	}

	conn, err := s.pc.Index(pinecone.NewIndexConnParams{
		Host:      s.host,
		Namespace: collection,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: failed to connect to index: %w", err)
	}
	s.conns[collection] = conn
	return conn, nil
}

// SimilaritySearch returns up to K documents nearest to the query vector.
// Pinecone has no server-side score threshold, so it is applied here.
func (s *PineconeStore) SimilaritySearch(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if len(req.Vector) == 0 {
		return nil, ErrInvalidQuery
	}

	conn, err := s.connFor(req.Collection)
	if err != nil {
		return nil, err
	}

	k := req.K
	if k <= 0 {
		k = 10
	}

	queryReq := &pinecone.QueryByVectorValuesRequest{
		Vector:          req.Vector,
		TopK:            uint32(k),
		IncludeMetadata: true,
	}
	if len(req.Filter) > 0 {
		if filter, err := structpb.NewStruct(req.Filter); err == nil {
			queryReq.MetadataFilter = filter
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, queryReq)
	if err != nil {
		return nil, fmt.Errorf("pinecone: query failed: %w", err)
	}

	results := make([]types.ScoredDocument, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		score := float64(match.Score)
		if req.ScoreThreshold > 0 && score < req.ScoreThreshold {
			continue
		}

		var payload map[string]interface{}
		if match.Vector.Metadata != nil {
			payload = match.Vector.Metadata.AsMap()
		}

		doc := payloadToDoc(match.Vector.Id, payload)
		results = append(results, types.ScoredDocument{
			Document: doc,
			Score:    score,
		})
	}

	return results, nil
}

// Upsert writes vectors into a namespace with retry on transient errors.
func (s *PineconeStore) Upsert(ctx context.Context, collection string, vectors []types.Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	conn, err := s.connFor(collection)
	if err != nil {
		return err
	}

	pcVectors := make([]*pinecone.Vector, len(vectors))
	for i, v := range vectors {
		values := v.Values
		payload := make(map[string]interface{}, len(v.Metadata)+1)
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload[docIDField] = v.ID

		var metadata *structpb.Struct
		if md, err := structpb.NewStruct(payload); err == nil {
			metadata = md
		}

		pcVectors[i] = &pinecone.Vector{
			Id:       v.ID,
			Values:   &values,
			Metadata: metadata,
		}
	}

	var lastErr error
	backoff := s.cfg.InitialBackoff

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			atomic.AddInt64(&s.retries, 1)
			time.Sleep(backoff)
			backoff = time.Duration(stdmath.Min(float64(backoff*2), float64(s.cfg.MaxBackoff)))
		}

		_, err := conn.UpsertVectors(ctx, pcVectors)
		if err == nil {
			atomic.AddInt64(&s.upserted, int64(len(vectors)))
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	atomic.AddInt64(&s.failed, int64(len(vectors)))
	return fmt.Errorf("pinecone: upsert failed after %d retries: %w", s.cfg.MaxRetries, lastErr)
}

// Delete removes vectors by ID from a namespace.
func (s *PineconeStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := s.connFor(collection)
	if err != nil {
		return err
	}

	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return fmt.Errorf("pinecone: delete failed: %w", err)
	}
	return nil
}

// EnsureCollection verifies the index dimension matches. Namespaces are
// created implicitly on first upsert.
func (s *PineconeStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if s.cfg.IndexName == "" {
		return nil
	}

	idx, err := s.pc.DescribeIndex(ctx, s.cfg.IndexName)
	if err != nil {
		return fmt.Errorf("pinecone: failed to describe index: %w", err)
	}
	if idx.Dimension != nil && int(*idx.Dimension) != dimension {
		return fmt.Errorf("pinecone: index dimension %d does not match embedding dimension %d", *idx.Dimension, dimension)
	}
	return nil
}

// Stats returns namespace statistics.
func (s *PineconeStore) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	conn, err := s.connFor(collection)
	if err != nil {
		return nil, err
	}

	resp, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("pinecone: index stats failed: %w", err)
	}

	stats := &CollectionStats{Name: collection}
	if resp.Dimension != nil {
		stats.Dimension = int(*resp.Dimension)
	}
	if ns, ok := resp.Namespaces[collection]; ok && ns != nil {
		stats.VectorCount = int64(ns.VectorCount)
	}

	return stats, nil
}

// Ping verifies connectivity to Pinecone.
func (s *PineconeStore) Ping(ctx context.Context) error {
	if s.cfg.IndexName != "" {
		_, err := s.pc.DescribeIndex(ctx, s.cfg.IndexName)
		return err
	}
	conn, err := s.connFor("")
	if err != nil {
		return err
	}
	_, err = conn.DescribeIndexStats(ctx)
	return err
}

// Close releases all namespace connections.
func (s *PineconeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.conns = make(map[string]*pinecone.IndexConnection)
	return firstErr
}

// isRetryableError checks if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	// Rate limiting (429) or service unavailable (503)
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unavailable") ||
		strings.Contains(errStr, "temporarily")
}
