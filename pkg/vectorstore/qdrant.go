package vectorstore

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/siftlabs/sift/pkg/types"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// Addr is the gRPC endpoint as host:port. A bare host defaults to
	// port 6334.
	Addr string

	// APIKey authenticates with Qdrant Cloud. Empty for local instances.
	APIKey string

	// UseTLS enables TLS for the connection.
	UseTLS bool
}

// QdrantStore implements Store over the Qdrant gRPC API.
type QdrantStore struct {
	cfg         QdrantConfig
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	health      pb.QdrantClient
}

// NewQdrantStore connects to Qdrant and returns a Store.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("qdrant: addr is required")
	}
	addr := cfg.Addr
	if !strings.Contains(addr, ":") {
		addr += ":6334"
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to connect to %s: %w", addr, err)
	}

	return &QdrantStore{
		cfg:         cfg,
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		health:      pb.NewQdrantClient(conn),
	}, nil
}

// SimilaritySearch returns up to K documents nearest to the query vector.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if len(req.Vector) == 0 {
		return nil, ErrInvalidQuery
	}
	ctx = s.withAPIKey(ctx)

	k := req.K
	if k <= 0 {
		k = 10
	}

	searchReq := &pb.SearchPoints{
		CollectionName: req.Collection,
		Vector:         req.Vector,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if req.ScoreThreshold > 0 {
		threshold := float32(req.ScoreThreshold)
		searchReq.ScoreThreshold = &threshold
	}
	if len(req.Filter) > 0 {
		searchReq.Filter = buildQdrantFilter(req.Filter)
	}

	resp, err := s.points.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]types.ScoredDocument, 0, len(resp.Result))
	for _, point := range resp.Result {
		id := ""
		if point.Id != nil {
			switch pid := point.Id.PointIdOptions.(type) {
			case *pb.PointId_Num:
				id = fmt.Sprintf("%d", pid.Num)
			case *pb.PointId_Uuid:
				id = pid.Uuid
			}
		}

		doc := payloadToDoc(id, qdrantPayloadToMap(point.Payload))
		results = append(results, types.ScoredDocument{
			Document: doc,
			Score:    float64(point.Score),
		})
	}

	return results, nil
}

// Upsert writes vectors with document payloads into a collection.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, vectors []types.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	ctx = s.withAPIKey(ctx)

	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		payload := make(map[string]interface{}, len(v.Metadata)+1)
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload[docIDField] = v.ID

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: stablePointID(v.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: v.Values}},
			},
			Payload: mapToQdrantPayload(payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Delete removes vectors by document ID from a collection.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx = s.withAPIKey(ctx)

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: stablePointID(id)},
		}
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance if it
// does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	ctx = s.withAPIKey(ctx)

	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("qdrant: collection lookup failed: %w", err)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection failed: %w", err)
	}
	return nil
}

// Stats returns collection statistics.
func (s *QdrantStore) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	ctx = s.withAPIKey(ctx)

	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("qdrant: collection info failed: %w", err)
	}

	stats := &CollectionStats{Name: collection}
	info := resp.GetResult()
	if info == nil {
		return stats, nil
	}

	if count := info.GetPointsCount(); count != 0 {
		stats.VectorCount = int64(count)
	}
	if cfg := info.GetConfig(); cfg != nil {
		if params := cfg.GetParams().GetVectorsConfig().GetParams(); params != nil {
			stats.Dimension = int(params.GetSize())
		}
	}

	return stats, nil
}

// Ping verifies connectivity to Qdrant.
func (s *QdrantStore) Ping(ctx context.Context) error {
	ctx = s.withAPIKey(ctx)
	_, err := s.health.HealthCheck(ctx, &pb.HealthCheckRequest{})
	return err
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// withAPIKey attaches the API key to outgoing requests when configured.
func (s *QdrantStore) withAPIKey(ctx context.Context) context.Context {
	if s.cfg.APIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.cfg.APIKey)
}

// stablePointID derives a deterministic UUID from a document ID. Qdrant
// point IDs must be UUIDs or unsigned integers; the original ID is
// preserved in the payload.
func stablePointID(docID string) string {
	h := sha256.Sum256([]byte(docID))
	h[6] = (h[6] & 0x0f) | 0x50
	h[8] = (h[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}

// buildQdrantFilter converts an equality filter map to a Qdrant filter.
func buildQdrantFilter(filter map[string]interface{}) *pb.Filter {
	conditions := make([]*pb.Condition, 0, len(filter))

	for key, value := range filter {
		var match *pb.Match

		switch v := value.(type) {
		case string:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}}
		case int:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(v)}}
		case int64:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: v}}
		case bool:
			match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}}
		}

		if match == nil {
			continue
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: key, Match: match},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}

// qdrantPayloadToMap converts a Qdrant payload to a Go map.
func qdrantPayloadToMap(payload map[string]*pb.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}

	result := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		result[k] = qdrantValueToGo(v)
	}
	return result
}

// qdrantValueToGo converts a Qdrant Value to a Go value.
func qdrantValueToGo(v *pb.Value) interface{} {
	if v == nil {
		return nil
	}

	switch val := v.Kind.(type) {
	case *pb.Value_NullValue:
		return nil
	case *pb.Value_DoubleValue:
		return val.DoubleValue
	case *pb.Value_IntegerValue:
		return val.IntegerValue
	case *pb.Value_StringValue:
		return val.StringValue
	case *pb.Value_BoolValue:
		return val.BoolValue
	case *pb.Value_ListValue:
		if val.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = qdrantValueToGo(item)
		}
		return list
	case *pb.Value_StructValue:
		if val.StructValue == nil {
			return nil
		}
		return qdrantPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}

// mapToQdrantPayload converts a Go map to a Qdrant payload.
func mapToQdrantPayload(m map[string]interface{}) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		payload[k] = goValueToQdrant(v)
	}
	return payload
}

// goValueToQdrant converts a Go value to a Qdrant Value.
func goValueToQdrant(v interface{}) *pb.Value {
	switch val := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case []interface{}:
		values := make([]*pb.Value, len(val))
		for i, item := range val {
			values[i] = goValueToQdrant(item)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	case map[string]interface{}:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: mapToQdrantPayload(val)}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}
