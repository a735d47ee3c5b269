package storage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// VectorSideChannel is the optional embedding side-channel spec §1's
// Non-goals permit ("embeddings are an optional side-channel"): it is
// never consulted by SearchMemories, which stays lexical+metadata per
// spec §4.5, but a caller may use it to layer similarity search on top.
type VectorSideChannel interface {
	Upsert(ctx context.Context, memoryID string, vector []float32) error
	Delete(ctx context.Context, memoryID string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int) ([]VectorHit, error)
	Close() error
}

// VectorHit is one SimilaritySearch result.
type VectorHit struct {
	MemoryID string
	Score    float64
}

// qdrantPointIDField stores the original (non-UUID) memory id in the
// point payload, since Qdrant point ids must be a UUID or unsigned
// integer (grounded in the teacher's qdrantVector.Upsert convention).
const qdrantPointIDField = "_memory_id"

type qdrantSideChannel struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantSideChannel connects to a Qdrant instance at dsn (gRPC, default
// port 6334) and ensures collection exists with the given vector
// dimension and distance metric ("cosine"|"l2"|"ip"), mirroring the
// teacher's NewQdrantVector.
func NewQdrantSideChannel(dsn, collection string, dimensions int, metric string) (VectorSideChannel, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if key := parsed.Query().Get("api_key"); key != "" {
		cfg.APIKey = key
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	sc := &qdrantSideChannel{client: client, collection: collection}
	if err := sc.ensureCollection(context.Background(), dimensions, metric); err != nil {
		client.Close()
		return nil, err
	}
	return sc, nil
}

func (q *qdrantSideChannel) ensureCollection(ctx context.Context, dimensions int, metric string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if dimensions <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	var distance qdrant.Distance
	switch metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: distance,
		}),
	})
}

func (q *qdrantSideChannel) pointID(memoryID string) (string, bool) {
	if _, err := uuid.Parse(memoryID); err == nil {
		return memoryID, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String(), true
}

func (q *qdrantSideChannel) Upsert(ctx context.Context, memoryID string, vector []float32) error {
	uuidStr, derived := q.pointID(memoryID)
	payload := map[string]any{}
	if derived {
		payload[qdrantPointIDField] = memoryID
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *qdrantSideChannel) Delete(ctx context.Context, memoryID string) error {
	uuidStr, _ := q.pointID(memoryID)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	return err
}

func (q *qdrantSideChannel) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]VectorHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorHit, 0, len(hits))
	for _, hit := range hits {
		memoryID := hit.Id.GetUuid()
		if hit.Payload != nil {
			if v, ok := hit.Payload[qdrantPointIDField]; ok {
				memoryID = v.GetStringValue()
			}
		}
		out = append(out, VectorHit{MemoryID: memoryID, Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *qdrantSideChannel) Close() error {
	return q.client.Close()
}
