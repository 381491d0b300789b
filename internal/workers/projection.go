package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"mnemo/internal/domain"
	"mnemo/internal/observability"
	"mnemo/internal/persistence"
)

const (
	coordinateBound   = 100.0
	minMeanOriginDist = 0.1
)

// ProjectionWorker recomputes the user's 3D embedding projection.
type ProjectionWorker struct {
	Graph       persistence.GraphStore
	Vectors     persistence.VectorStore
	Reducer     Reducer
	Projections persistence.ProjectionStore

	Now func() time.Time
}

func (w *ProjectionWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *ProjectionWorker) Handle(ctx context.Context, payload []byte) error {
	var ev domain.EntityEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode graph event: %w", err)
	}
	// Only entity-batch events trigger a recompute; every other shape is skipped.
	if ev.Type != domain.EventNewEntitiesCreated && ev.Type != domain.EventCycleArtifactsCreated {
		observability.LoggerWithTrace(ctx).Debug().Str("type", ev.Type).Msg("ignoring graph event")
		return nil
	}
	if ev.UserID == "" {
		return fmt.Errorf("graph event missing user id")
	}
	return w.Process(ctx, ev.UserID)
}

func (w *ProjectionWorker) Process(ctx context.Context, userID string) error {
	log := observability.LoggerWithTrace(ctx).With().Str("user_id", userID).Logger()

	nodes, edges, err := w.Graph.Subgraph(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch subgraph: %w", err)
	}
	if len(nodes) == 0 {
		log.Info().Msg("empty graph, skipping projection")
		return nil
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.EntityID)
	}
	vectors, err := w.Vectors.Fetch(ctx, userID, ids)
	if err != nil {
		return fmt.Errorf("fetch vectors: %w", err)
	}

	// Nodes without a stored vector are excluded from reduction and placed
	// at the origin as isolated points.
	var reducible []persistence.GraphNode
	var vecs [][]float32
	for _, n := range nodes {
		if v, ok := vectors[n.EntityID]; ok {
			reducible = append(reducible, n)
			vecs = append(vecs, v)
		}
	}

	var coords []domain.Position
	if len(vecs) > 0 {
		coords, err = w.Reducer.Reduce(ctx, vecs)
		if err != nil {
			return fmt.Errorf("reduce vectors: %w", err)
		}
	}

	positions := make(map[string]domain.Position, len(reducible))
	for i, n := range reducible {
		positions[n.EntityID] = coords[i]
	}

	projection := domain.GraphProjection{
		UserID: userID,
		Metadata: domain.ProjectionMetadata{
			Algorithm:   w.Reducer.Algorithm(),
			NodeCount:   len(nodes),
			GeneratedAt: w.now(),
		},
	}
	for _, n := range nodes {
		projection.Nodes = append(projection.Nodes, domain.ProjectionNode{
			EntityID:   n.EntityID,
			EntityType: nodeType(n),
			Position:   positions[n.EntityID],
			Properties: n.Properties,
		})
	}
	for _, e := range edges {
		projection.Edges = append(projection.Edges, domain.ProjectionEdge{
			Source: e.Source,
			Target: e.Target,
			Type:   e.Type,
		})
	}

	if err := validateProjection(projection, len(reducible)); err != nil {
		return fmt.Errorf("degenerate projection: %w", err)
	}

	if err := w.Projections.Upsert(ctx, projection); err != nil {
		return fmt.Errorf("store projection: %w", err)
	}
	log.Info().
		Int("nodes", len(projection.Nodes)).
		Int("edges", len(projection.Edges)).
		Int("reduced", len(reducible)).
		Msg("projection updated")
	return nil
}

// validateProjection enforces the quality bounds: finite coordinates within
// the display cube, and, when any node was reduced, a mean origin distance
// over all nodes (origin-placed ones included) above the minimum.
func validateProjection(p domain.GraphProjection, reducedCount int) error {
	var distSum float64
	for _, n := range p.Nodes {
		for _, c := range []float64{n.Position.X, n.Position.Y, n.Position.Z} {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("node %s has non-finite coordinate", n.EntityID)
			}
			if math.Abs(c) >= coordinateBound {
				return fmt.Errorf("node %s coordinate %v out of bounds", n.EntityID, c)
			}
		}
		distSum += math.Sqrt(n.Position.X*n.Position.X + n.Position.Y*n.Position.Y + n.Position.Z*n.Position.Z)
	}
	if reducedCount > 0 {
		mean := distSum / float64(len(p.Nodes))
		if mean <= minMeanOriginDist {
			return fmt.Errorf("mean origin distance %v below %v", mean, minMeanOriginDist)
		}
	}
	return nil
}

func nodeType(n persistence.GraphNode) string {
	if t, ok := n.Properties["entity_type"].(string); ok && t != "" {
		return t
	}
	if len(n.Labels) > 0 {
		return n.Labels[0]
	}
	return "Unknown"
}
