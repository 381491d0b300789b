package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
	"mnemo/internal/testhelpers"
)

func newProjectionFixture() (*ProjectionWorker, *testhelpers.FakeGraphStore, *testhelpers.FakeVectorStore, *testhelpers.FakeProjectionStore, *testhelpers.FakeReducer) {
	graph := testhelpers.NewFakeGraphStore()
	vectors := testhelpers.NewFakeVectorStore()
	projections := testhelpers.NewFakeProjectionStore()
	reduce := &testhelpers.FakeReducer{}
	w := &ProjectionWorker{
		Graph:       graph,
		Vectors:     vectors,
		Reducer:     reduce,
		Projections: projections,
		Now:         func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
	}
	return w, graph, vectors, projections, reduce
}

func seedProjectionNode(graph *testhelpers.FakeGraphStore, vectors *testhelpers.FakeVectorStore, id string, withVector bool) {
	_ = graph.Write(context.Background(), func(tx persistence.GraphTx) error {
		return tx.UpsertNode("Concept", map[string]any{
			"entity_id":   id,
			"user_id":     testUser,
			"entity_type": "Concept",
		})
	})
	if withVector {
		vectors.Records[id] = persistence.VectorRecord{
			EntityID: id, UserID: testUser, EntityType: domain.TypeConcept,
			Vector: []float32{1, 2, 3}, Status: "active",
		}
	}
}

func TestProjectionLargeGraph(t *testing.T) {
	w, graph, vectors, projections, _ := newProjectionFixture()

	for i := 0; i < 2000; i++ {
		seedProjectionNode(graph, vectors, fmt.Sprintf("n-%04d", i), true)
	}
	for i := 0; i < 1000; i++ {
		addGraphEdge(graph, "RELATED_TO", fmt.Sprintf("n-%04d", i), fmt.Sprintf("n-%04d", i+1000))
	}

	start := time.Now()
	err := w.Process(context.Background(), testUser)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 60*time.Second)

	p, err := projections.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 2000, p.Metadata.NodeCount)
	assert.Len(t, p.Nodes, 2000)
	assert.Len(t, p.Edges, 1000)
	assert.Equal(t, "umap", p.Metadata.Algorithm)

	var distSum float64
	for _, n := range p.Nodes {
		assert.Less(t, math.Abs(n.Position.X), 100.0)
		assert.Less(t, math.Abs(n.Position.Y), 100.0)
		assert.Less(t, math.Abs(n.Position.Z), 100.0)
		distSum += math.Sqrt(n.Position.X*n.Position.X + n.Position.Y*n.Position.Y + n.Position.Z*n.Position.Z)
	}
	assert.Greater(t, distSum/float64(len(p.Nodes)), 0.1)
}

func TestProjectionSkipsForeignEvents(t *testing.T) {
	w, _, _, projections, _ := newProjectionFixture()

	payload, _ := json.Marshal(map[string]any{"type": "something_else", "userId": testUser})
	require.NoError(t, w.Handle(context.Background(), payload))
	_, err := projections.Get(context.Background(), testUser)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestProjectionNodesWithoutVectorsSitAtOrigin(t *testing.T) {
	w, graph, vectors, projections, _ := newProjectionFixture()
	seedProjectionNode(graph, vectors, "with-vec", true)
	seedProjectionNode(graph, vectors, "no-vec", false)

	require.NoError(t, w.Process(context.Background(), testUser))

	p, err := projections.Get(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 2)
	for _, n := range p.Nodes {
		if n.EntityID == "no-vec" {
			assert.Zero(t, n.Position.X)
			assert.Zero(t, n.Position.Y)
			assert.Zero(t, n.Position.Z)
		}
	}
}

func TestProjectionRejectsOutOfBoundsCoordinates(t *testing.T) {
	w, graph, vectors, _, reduce := newProjectionFixture()
	seedProjectionNode(graph, vectors, "n-1", true)
	reduce.Coords = []domain.Position{{X: 250, Y: 0, Z: 0}}

	err := w.Process(context.Background(), testUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestProjectionRejectsDegenerateReduction(t *testing.T) {
	w, graph, vectors, _, reduce := newProjectionFixture()
	seedProjectionNode(graph, vectors, "n-1", true)
	seedProjectionNode(graph, vectors, "n-2", true)
	reduce.Coords = []domain.Position{{}, {}}

	err := w.Process(context.Background(), testUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mean origin distance")
}

func TestProjectionExcludesMergedAndArchivedNodes(t *testing.T) {
	w, graph, vectors, projections, _ := newProjectionFixture()
	seedProjectionNode(graph, vectors, "active-1", true)
	_ = graph.Write(context.Background(), func(tx persistence.GraphTx) error {
		return tx.UpsertNode("Concept", map[string]any{
			"entity_id": "merged-1", "user_id": testUser, "entity_type": "Concept", "status": "merged",
		})
	})
	_ = graph.Write(context.Background(), func(tx persistence.GraphTx) error {
		return tx.UpsertNode("Concept", map[string]any{
			"entity_id": "archived-1", "user_id": testUser, "entity_type": "Concept", "status": "archived",
		})
	})

	require.NoError(t, w.Process(context.Background(), testUser))

	p, err := projections.Get(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 1)
	assert.Equal(t, "active-1", p.Nodes[0].EntityID)
	assert.Equal(t, 1, p.Metadata.NodeCount)
}
