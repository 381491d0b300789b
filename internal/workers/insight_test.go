package workers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
	"mnemo/internal/synthesis"
	"mnemo/internal/testhelpers"
)

type insightFixture struct {
	worker      *InsightWorker
	users       *testhelpers.FakeUserStore
	convs       *testhelpers.FakeConversationStore
	knowledge   *testhelpers.FakeKnowledgeStore
	insights    *testhelpers.FakeInsightStore
	cycles      *testhelpers.FakeCycleStore
	graph       *testhelpers.FakeGraphStore
	vectors     *testhelpers.FakeVectorStore
	synthesizer *testhelpers.FakeStrategic
	publisher   *testhelpers.FakePublisher
}

func newInsightFixture(result synthesis.StrategicResult) *insightFixture {
	f := &insightFixture{
		users:       testhelpers.NewFakeUserStore(),
		convs:       testhelpers.NewFakeConversationStore(),
		knowledge:   testhelpers.NewFakeKnowledgeStore(),
		insights:    testhelpers.NewFakeInsightStore(),
		cycles:      testhelpers.NewFakeCycleStore(),
		graph:       testhelpers.NewFakeGraphStore(),
		vectors:     testhelpers.NewFakeVectorStore(),
		synthesizer: &testhelpers.FakeStrategic{Result: result},
		publisher:   testhelpers.NewFakePublisher(),
	}
	idSeq := 0
	f.worker = &InsightWorker{
		Users:             f.users,
		Conversations:     f.convs,
		Knowledge:         f.knowledge,
		Insights:          f.insights,
		Cycles:            f.cycles,
		Graph:             f.graph,
		Vectors:           f.vectors,
		Synthesizer:       f.synthesizer,
		Publisher:         f.publisher,
		CycleDurationDays: 2,
		Now:               func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			idSeq++
			return fmt.Sprintf("cid-%04d", idSeq)
		},
	}
	f.users.Users[testUser] = domain.User{UserID: testUser, Name: "Dana"}
	return f
}

func TestInsightConceptMergeConsistency(t *testing.T) {
	result := synthesis.StrategicResult{
		OntologyOptimizations: synthesis.OntologyOptimizations{
			ConceptsToMerge: []synthesis.ConceptMerge{
				{
					PrimaryConceptID:      "c-a",
					SecondaryConceptIDs:   []string{"c-b", "c-c"},
					NewConceptName:        "Unified concept",
					NewConceptDescription: "Merged description",
					MergeRationale:        "near-duplicates",
				},
			},
		},
	}
	f := newInsightFixture(result)
	for _, id := range []string{"c-a", "c-b", "c-c", "x-1", "y-1"} {
		f.knowledge.Concepts[id] = domain.Concept{ID: id, UserID: testUser, Title: id, Status: domain.ConceptActive}
	}
	seedGraphConcept(f.graph, "c-a")
	seedGraphConcept(f.graph, "c-b")
	seedGraphConcept(f.graph, "c-c")
	seedGraphConcept(f.graph, "x-1")
	seedGraphConcept(f.graph, "y-1")
	addGraphEdge(f.graph, "INFLUENCES", "c-b", "x-1")
	addGraphEdge(f.graph, "RELATED_TO", "y-1", "c-c")
	f.vectors.Records["c-b"] = vectorRecord("c-b")
	f.vectors.Records["c-c"] = vectorRecord("c-c")

	err := f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser})
	require.NoError(t, err)

	// Relational: secondaries merged into primary, one-way.
	for _, id := range []string{"c-b", "c-c"} {
		c := f.knowledge.Concepts[id]
		assert.Equal(t, domain.ConceptMerged, c.Status)
		assert.Equal(t, "c-a", c.MergedIntoConceptID)
	}
	primary := f.knowledge.Concepts["c-a"]
	assert.Equal(t, "Unified concept", primary.Title)
	assert.Equal(t, domain.ConceptActive, primary.Status)

	// Vector store mirrors the status.
	assert.Equal(t, "merged", f.vectors.Records["c-b"].Status)
	assert.Equal(t, "merged", f.vectors.Records["c-c"].Status)

	// Graph: secondaries gone, edges rewritten onto the primary with markers.
	assert.Empty(t, f.graph.EdgesTouching("c-b"))
	assert.Empty(t, f.graph.EdgesTouching("c-c"))
	edges := f.graph.EdgesTouching("c-a")
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Contains(t, []string{"c-b", "c-c"}, e.RedirectedFrom)
	}
	var influences, related bool
	for _, e := range edges {
		if e.Type == "INFLUENCES" && e.Source == "c-a" && e.Target == "x-1" {
			influences = true
		}
		if e.Type == "RELATED_TO" && e.Source == "y-1" && e.Target == "c-a" {
			related = true
		}
	}
	assert.True(t, influences, "INFLUENCES edge should point from primary to x-1")
	assert.True(t, related, "RELATED_TO edge should point from y-1 to primary")

	// Cycle closed with the merge count.
	cycle := onlyCycle(t, f.cycles)
	assert.Equal(t, domain.CycleCompleted, cycle.Status)
	assert.Equal(t, 2, cycle.ConceptsMerged)
	assert.True(t, cycle.DashboardReady)
}

func TestInsightStructuralIdempotence(t *testing.T) {
	result := synthesis.StrategicResult{
		OntologyOptimizations: synthesis.OntologyOptimizations{
			ConceptsToMerge: []synthesis.ConceptMerge{
				{PrimaryConceptID: "c-a", SecondaryConceptIDs: []string{"c-b"}},
			},
		},
	}
	f := newInsightFixture(result)
	f.knowledge.Concepts["c-a"] = domain.Concept{ID: "c-a", UserID: testUser, Status: domain.ConceptActive}
	f.knowledge.Concepts["c-b"] = domain.Concept{ID: "c-b", UserID: testUser, Status: domain.ConceptActive}
	seedGraphConcept(f.graph, "c-a")
	seedGraphConcept(f.graph, "c-b")

	require.NoError(t, f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser}))
	require.NoError(t, f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser}))

	// Second cycle does not re-process the already-merged secondary.
	var total int
	for _, c := range f.cycles.Cycles {
		total += c.ConceptsMerged
		assert.Equal(t, domain.CycleCompleted, c.Status)
	}
	assert.Equal(t, 1, total)
}

func TestInsightCycleArtifactsAndPrompts(t *testing.T) {
	result := synthesis.StrategicResult{
		DerivedArtifacts: []synthesis.DerivedArtifactDraft{
			{ArtifactType: "cycle_report", Title: "Quarterly themes", Content: "Growth centered on the career shift.", SourceConceptIDs: []string{"c-a"}},
		},
		ProactivePrompts: []synthesis.ProactivePromptDraft{
			{Title: "Opener", PromptText: "Ask about the PM interview", PromptType: "followup", TimingSuggestion: "next_conversation", PriorityLevel: 1},
		},
	}
	f := newInsightFixture(result)
	f.knowledge.Concepts["c-a"] = domain.Concept{ID: "c-a", UserID: testUser, Status: domain.ConceptActive}
	seedGraphConcept(f.graph, "c-a")

	err := f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser})
	require.NoError(t, err)

	require.Len(t, f.insights.Artifacts, 1)
	require.Len(t, f.insights.Prompts, 1)
	artifact := f.insights.Artifacts[0]
	assert.NotEmpty(t, artifact.CycleID)

	// DERIVED_FROM edge from the artifact to its source concept.
	var derived bool
	for _, e := range f.graph.EdgesTouching(artifact.ID) {
		if e.Type == "DERIVED_FROM" && e.Target == "c-a" {
			derived = true
		}
	}
	assert.True(t, derived)

	// Embedding fan-out covers content entities only.
	embedded := f.publisher.EmbeddedEntityIDs()
	assert.Contains(t, embedded, artifact.ID)
	assert.Contains(t, embedded, f.insights.Prompts[0].ID)
	assert.NotContains(t, embedded, "c-a")

	// Card queue gets content entities; the event type is cycle_artifacts_created.
	require.Len(t, f.publisher.CardEvents, 1)
	assert.Equal(t, domain.EventCycleArtifactsCreated, f.publisher.CardEvents[0].Type)
	assert.Equal(t, domain.SourceInsight, f.publisher.CardEvents[0].Source)

	// User state refreshed with next-conversation starters.
	pkg := f.users.Packages[testUser]
	require.NotNil(t, pkg)
	starters, _ := pkg["conversation_starters"].([]string)
	require.Len(t, starters, 1)
	assert.Equal(t, "Ask about the PM interview", starters[0])
	assert.NotEmpty(t, f.users.Profiles[testUser])

	cycle := onlyCycle(t, f.cycles)
	assert.Equal(t, 1, cycle.ArtifactsCreated)
	assert.Equal(t, 1, cycle.PromptsCreated)
}

func TestInsightSynthesisFailureClosesCycleFailed(t *testing.T) {
	f := newInsightFixture(synthesis.StrategicResult{})
	f.synthesizer.Err = fmt.Errorf("llm call failed after 3 attempts: overloaded")

	err := f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser})
	require.Error(t, err)

	cycle := onlyCycle(t, f.cycles)
	assert.Equal(t, domain.CycleFailed, cycle.Status)
	assert.GreaterOrEqual(t, cycle.ErrorCount, 1)
	assert.False(t, cycle.DashboardReady)
}

func TestInsightPartialPersistenceFailureStillCompletes(t *testing.T) {
	result := synthesis.StrategicResult{
		DerivedArtifacts: []synthesis.DerivedArtifactDraft{
			{ArtifactType: "cycle_report", Title: "Report", Content: "body"},
		},
		OntologyOptimizations: synthesis.OntologyOptimizations{
			ConceptsToArchive: []synthesis.ConceptArchive{{ConceptID: "c-a", ArchiveRationale: "stale"}},
		},
	}
	f := newInsightFixture(result)
	f.knowledge.Concepts["c-a"] = domain.Concept{ID: "c-a", UserID: testUser, Status: domain.ConceptActive}
	seedGraphConcept(f.graph, "c-a")
	f.insights.FailInserts = true

	err := f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser})
	require.NoError(t, err)

	cycle := onlyCycle(t, f.cycles)
	assert.Equal(t, domain.CycleCompleted, cycle.Status)
	assert.GreaterOrEqual(t, cycle.ErrorCount, 1)
	assert.Zero(t, cycle.ArtifactsCreated)
	// The archive still went through.
	assert.Equal(t, domain.ConceptArchived, f.knowledge.Concepts["c-a"].Status)
	assert.Equal(t, "archived", f.vectors.Records["c-a"].Status)
}

func TestInsightCommunities(t *testing.T) {
	result := synthesis.StrategicResult{
		OntologyOptimizations: synthesis.OntologyOptimizations{
			CommunityStructures: []synthesis.CommunityStructure{
				{CommunityID: "ignored", MemberConceptIDs: []string{"c-a", "c-b"}, Theme: "Career", StrategicImportance: "high"},
			},
		},
	}
	f := newInsightFixture(result)
	f.knowledge.Concepts["c-a"] = domain.Concept{ID: "c-a", UserID: testUser, Status: domain.ConceptActive}
	f.knowledge.Concepts["c-b"] = domain.Concept{ID: "c-b", UserID: testUser, Status: domain.ConceptActive}
	seedGraphConcept(f.graph, "c-a")
	seedGraphConcept(f.graph, "c-b")

	err := f.worker.Process(context.Background(), domain.InsightJob{UserID: testUser})
	require.NoError(t, err)

	require.Len(t, f.insights.Communities, 1)
	community := f.insights.Communities[0]
	assert.NotEqual(t, "ignored", community.ID)
	assert.Equal(t, "Career", community.Title)
	assert.Equal(t, community.ID, f.knowledge.Concepts["c-a"].CommunityID)
	assert.Equal(t, community.ID, f.knowledge.Concepts["c-b"].CommunityID)

	memberEdges := 0
	for _, e := range f.graph.EdgesTouching(community.ID) {
		if e.Type == "MEMBER_OF" {
			memberEdges++
		}
	}
	assert.Equal(t, 2, memberEdges)
}

func onlyCycle(t *testing.T, s *testhelpers.FakeCycleStore) domain.UserCycle {
	t.Helper()
	require.Len(t, s.Cycles, 1)
	for _, c := range s.Cycles {
		return c
	}
	return domain.UserCycle{}
}

func seedGraphConcept(g *testhelpers.FakeGraphStore, id string) {
	_ = g.Write(context.Background(), func(tx persistence.GraphTx) error {
		return tx.UpsertNode("Concept", map[string]any{
			"entity_id":   id,
			"user_id":     testUser,
			"entity_type": "Concept",
			"status":      "active",
		})
	})
}

func addGraphEdge(g *testhelpers.FakeGraphStore, relType, source, target string) {
	_ = g.Write(context.Background(), func(tx persistence.GraphTx) error {
		return tx.CreateRelationship(domain.Relationship{
			RelationshipID: "seed-" + relType + "-" + source,
			Type:           relType,
			SourceEntityID: source,
			TargetEntityID: target,
			UserID:         testUser,
		})
	})
}

func vectorRecord(id string) persistence.VectorRecord {
	return persistence.VectorRecord{EntityID: id, UserID: testUser, EntityType: domain.TypeConcept, Status: "active"}
}
