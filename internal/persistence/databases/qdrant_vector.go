package databases

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"mnemo/internal/config"
	"mnemo/internal/domain"
	"mnemo/internal/persistence"
)

// Qdrant only allows UUIDs and positive integers as point IDs. Entity ids are
// UUIDs already, but the deterministic fallback keeps any opaque id usable;
// the original id is then stored in the payload.
const payloadIDField = "_original_id"

type qdrantVector struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string // cosine|l2|euclidean|ip|dot|manhattan
}

// NewQdrantVector creates the Qdrant-backed vector store.
// Note: the Go client uses Qdrant's gRPC API, which runs on port 6334 by default.
// An API key can be provided as a query parameter: "http://localhost:6334?api_key=..."
func NewQdrantVector(cfg config.QdrantConfig) (persistence.VectorStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsedURL, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	qcfg := &qdrant.Config{
		Host: host,
		Port: portNum,
	}
	if parsedURL.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	qv := &qdrantVector{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimensions,
		metric:     strings.ToLower(strings.TrimSpace(cfg.Metric)),
	}
	if err := qv.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return qv, nil
}

func (q *qdrantVector) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default: // cosine
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err != nil {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	}
	return id
}

func (q *qdrantVector) Upsert(ctx context.Context, rec persistence.VectorRecord) error {
	uuidStr := pointUUID(rec.EntityID)
	status := rec.Status
	if status == "" {
		status = string(domain.ConceptActive)
	}
	payload := map[string]any{
		"user_id":     rec.UserID,
		"entity_type": string(rec.EntityType),
		"status":      status,
	}
	if uuidStr != rec.EntityID {
		payload[payloadIDField] = rec.EntityID
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	points := []*qdrant.PointStruct{
		{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		},
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	return err
}

// SetStatus mirrors the relational concept status onto the point payload. The
// user_id condition keeps the write from ever touching another user's point.
func (q *qdrantVector) SetStatus(ctx context.Context, userID, entityID, status string) error {
	pointID := qdrant.NewIDUUID(pointUUID(entityID))
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Payload:        qdrant.NewValueMap(map[string]any{"status": status}),
		PointsSelector: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewHasID(pointID),
				qdrant.NewMatch("user_id", userID),
			},
		}),
	})
	return err
}

func (q *qdrantVector) Fetch(ctx context.Context, userID string, entityIDs []string) (map[string][]float32, error) {
	if len(entityIDs) == 0 {
		return map[string][]float32{}, nil
	}
	ids := make([]*qdrant.PointId, 0, len(entityIDs))
	uuidToOriginal := make(map[string]string, len(entityIDs))
	for _, id := range entityIDs {
		u := pointUUID(id)
		uuidToOriginal[u] = id
		ids = append(ids, qdrant.NewIDUUID(u))
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            ids,
		WithVectors:    qdrant.NewWithVectors(true),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(points))
	for _, p := range points {
		if p == nil || p.Vectors == nil {
			continue
		}
		// Skip points that belong to another user; fetch is by id and the
		// filter cannot be expressed on the Get API.
		if p.Payload != nil {
			if owner, ok := p.Payload["user_id"]; ok && owner.GetStringValue() != userID {
				continue
			}
		}
		vec := p.Vectors.GetVector()
		if vec == nil {
			continue
		}
		id := p.Id.GetUuid()
		if orig, ok := uuidToOriginal[id]; ok {
			id = orig
		}
		data := make([]float32, len(vec.Data))
		copy(data, vec.Data)
		out[id] = data
	}
	return out, nil
}

func (q *qdrantVector) SimilaritySearch(ctx context.Context, userID string, vector []float32, entityType domain.EntityType, k int) ([]persistence.VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	must := []*qdrant.Condition{
		qdrant.NewMatch("user_id", userID),
		qdrant.NewMatch("status", string(domain.ConceptActive)),
	}
	if entityType != "" {
		must = append(must, qdrant.NewMatch("entity_type", string(entityType)))
	}
	limit := uint64(k)
	searchResult, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	results := make([]persistence.VectorResult, 0, len(searchResult))
	for _, hit := range searchResult {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := make(map[string]string)
		var originalID string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		results = append(results, persistence.VectorResult{
			EntityID: id,
			Score:    float64(hit.Score),
			Metadata: metadata,
		})
	}
	return results, nil
}

func (q *qdrantVector) Close(ctx context.Context) error {
	return q.client.Close()
}
