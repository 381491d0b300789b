package workers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
	"mnemo/internal/similarity"
	"mnemo/internal/synthesis"
	"mnemo/internal/testhelpers"
)

const (
	testUser = "user-1"
	testConv = "aa1bb2cc-0000-4000-8000-000000000001"
)

type ingestionFixture struct {
	worker        *IngestionWorker
	conversations *testhelpers.FakeConversationStore
	users         *testhelpers.FakeUserStore
	knowledge     *testhelpers.FakeKnowledgeStore
	graph         *testhelpers.FakeGraphStore
	publisher     *testhelpers.FakePublisher
	similarity    *testhelpers.FakeSimilarity
	synthesizer   *testhelpers.FakeHolistic
	locks         *testhelpers.FakeLocks
}

func newIngestionFixture(result synthesis.HolisticResult) *ingestionFixture {
	f := &ingestionFixture{
		conversations: testhelpers.NewFakeConversationStore(),
		users:         testhelpers.NewFakeUserStore(),
		knowledge:     testhelpers.NewFakeKnowledgeStore(),
		graph:         testhelpers.NewFakeGraphStore(),
		publisher:     testhelpers.NewFakePublisher(),
		similarity:    testhelpers.NewFakeSimilarity(),
		synthesizer:   &testhelpers.FakeHolistic{Result: result},
		locks:         testhelpers.NewFakeLocks(),
	}
	idSeq := 0
	f.worker = &IngestionWorker{
		Conversations:       f.conversations,
		Users:               f.users,
		Knowledge:           f.knowledge,
		Graph:               f.graph,
		Synthesizer:         f.synthesizer,
		Similarity:          f.similarity,
		Publisher:           f.publisher,
		Locks:               f.locks,
		ImportanceThreshold: 1,
		ReuseThreshold:      0.8,
		Now:                 func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			idSeq++
			return fmt.Sprintf("id-%04d", idSeq)
		},
	}
	f.conversations.Put(domain.Conversation{
		ConversationID: testConv,
		UserID:         testUser,
		Status:         domain.ConversationActive,
	})
	f.conversations.Transcripts[testUser+"|"+testConv] = "user: I want to move from engineering into product management\nassistant: tell me more"
	f.users.Users[testUser] = domain.User{UserID: testUser, Name: "Dana"}
	return f
}

func careerChangeResult() synthesis.HolisticResult {
	return synthesis.HolisticResult{
		PersistencePayload: synthesis.PersistencePayload{
			ConversationTitle:           "Career change",
			ConversationSummary:         "Six turns about moving from engineering to product management.",
			ConversationImportanceScore: 7,
			ExtractedMemoryUnits: []synthesis.ExtractedMemoryUnit{
				{Title: "Considering a career change", Content: "Wants to move into product management", ImportanceScore: 6, SentimentScore: 0.4},
			},
			ExtractedConcepts: []synthesis.ExtractedConcept{
				{Title: "Product Management", Type: "goal", Content: "Target discipline", ImportanceScore: 0.9},
				{Title: "Engineering", Type: "skill", Content: "Current discipline", ImportanceScore: 0.7},
			},
			DetectedGrowthEvents: []synthesis.DetectedGrowthEvent{
				{Title: "Clarified direction", Type: "know_self", Delta: 0.5, Content: "Named the move explicitly"},
			},
			NewRelationships: []synthesis.NewRelationship{
				{Source: "Engineering", Target: "Product Management", Type: "enables", Description: "skills enable the transition", Strength: 0.8},
			},
		},
		ForwardLookingContext: map[string]any{"proactive_greeting": "How is the PM plan going?"},
	}
}

func TestIngestionCareerChangeConversation(t *testing.T) {
	f := newIngestionFixture(careerChangeResult())
	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)

	conv, err := f.conversations.Get(context.Background(), testUser, testConv)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationProcessed, conv.Status)
	assert.Equal(t, "Career change", conv.Title)
	assert.Equal(t, "How is the PM plan going?", conv.ProactiveGreeting)

	var muTitles []string
	for _, mu := range f.knowledge.MemoryUnits {
		muTitles = append(muTitles, strings.ToLower(mu.Title))
	}
	require.NotEmpty(t, muTitles)
	assert.Contains(t, muTitles[0], "career")

	foundPM := false
	for _, c := range f.knowledge.Concepts {
		if strings.Contains(strings.ToLower(c.Title), "product management") {
			foundPM = true
		}
		assert.Equal(t, testUser, c.UserID)
	}
	assert.True(t, foundPM, "expected a product management concept")

	require.Len(t, f.knowledge.GrowthEvents, 1)
	for _, ge := range f.knowledge.GrowthEvents {
		assert.Greater(t, ge.DeltaValue, 0.0)
	}

	require.Len(t, f.publisher.CardEvents, 1)
	ev := f.publisher.CardEvents[0]
	assert.Equal(t, domain.EventNewEntitiesCreated, ev.Type)
	assert.Equal(t, domain.SourceIngestion, ev.Source)
	var haveConcept, haveMemory bool
	for _, ref := range ev.Entities {
		switch ref.Type {
		case domain.TypeConcept:
			haveConcept = true
		case domain.TypeMemoryUnit:
			haveMemory = true
		}
	}
	assert.True(t, haveConcept)
	assert.True(t, haveMemory)
	require.Len(t, f.publisher.GraphEvents, 1)

	// One relationship with a normalized emergent label.
	foundEdge := false
	for _, e := range f.graph.Edges {
		if e.Type == "ENABLES" {
			foundEdge = true
		}
	}
	assert.True(t, foundEdge)
}

func TestIngestionImportanceGate(t *testing.T) {
	t.Run("BelowThreshold", func(t *testing.T) {
		result := careerChangeResult()
		result.PersistencePayload.ConversationImportanceScore = 0.5
		f := newIngestionFixture(result)

		err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
		require.NoError(t, err)

		conv, _ := f.conversations.Get(context.Background(), testUser, testConv)
		assert.Equal(t, domain.ConversationProcessed, conv.Status)
		assert.NotEmpty(t, conv.Content)
		assert.Empty(t, f.knowledge.MemoryUnits)
		assert.Empty(t, f.knowledge.Concepts)
		assert.Empty(t, f.knowledge.GrowthEvents)
		assert.Empty(t, f.publisher.EmbeddingJobs)
		assert.Empty(t, f.publisher.CardEvents)
	})

	t.Run("ExactlyAtThreshold", func(t *testing.T) {
		result := careerChangeResult()
		result.PersistencePayload.ConversationImportanceScore = 1
		f := newIngestionFixture(result)

		err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
		require.NoError(t, err)
		assert.NotEmpty(t, f.knowledge.Concepts)
	})
}

func TestIngestionSimilarityReuse(t *testing.T) {
	existingID := "existing-concept-1"
	result := synthesis.HolisticResult{
		PersistencePayload: synthesis.PersistencePayload{
			ConversationTitle:           "Gym talk",
			ConversationSummary:         "Talked about fitness goals again.",
			ConversationImportanceScore: 4,
			ExtractedConcepts: []synthesis.ExtractedConcept{
				{Title: "fitness goals", Type: "goal", Content: "Wants to run a marathon", ImportanceScore: 0.8},
			},
		},
	}
	f := newIngestionFixture(result)
	f.knowledge.Concepts[existingID] = domain.Concept{
		ID: existingID, UserID: testUser, Title: "fitness goals", Status: domain.ConceptActive,
	}
	f.similarity.Matches["fitness goals"] = similarity.Match{
		EntityID: existingID, SimilarityScore: 0.86, Found: true,
	}

	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)

	// No new concept row: only the pre-existing one remains.
	assert.Len(t, f.knowledge.Concepts, 1)
	appends := f.knowledge.Appends[existingID]
	require.Len(t, appends, 1)
	assert.Equal(t, "[2026-03-14] Wants to run a marathon", appends[0])
	// No embedding job for the reused concept.
	assert.NotContains(t, f.publisher.EmbeddedEntityIDs(), existingID)
	assert.Empty(t, f.publisher.EmbeddingJobs)
}

func TestIngestionSpuriousJobIsSilentNoop(t *testing.T) {
	f := newIngestionFixture(careerChangeResult())
	err := f.worker.Process(context.Background(), domain.IngestionJob{
		ConversationID: "aa1bb2cc-0000-4000-8000-00000000ffff",
		UserID:         testUser,
	})
	require.NoError(t, err)
	assert.Zero(t, f.synthesizer.Calls)
}

func TestIngestionAlreadyProcessedIsNoop(t *testing.T) {
	f := newIngestionFixture(careerChangeResult())
	f.conversations.Put(domain.Conversation{
		ConversationID: testConv,
		UserID:         testUser,
		Status:         domain.ConversationProcessed,
	})
	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)
	assert.Zero(t, f.synthesizer.Calls)
	assert.Empty(t, f.knowledge.Concepts)
}

func TestIngestionSynthesisFailureMarksConversationFailed(t *testing.T) {
	f := newIngestionFixture(synthesis.HolisticResult{})
	f.synthesizer.Err = fmt.Errorf("llm call failed after 3 attempts: overloaded")

	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.Error(t, err)

	conv, _ := f.conversations.Get(context.Background(), testUser, testConv)
	assert.Equal(t, domain.ConversationFailed, conv.Status)
	assert.Contains(t, conv.Content, "overloaded")
	assert.Empty(t, f.publisher.CardEvents)
}

func TestIngestionZeroEntitiesStillFinalizes(t *testing.T) {
	result := synthesis.HolisticResult{
		PersistencePayload: synthesis.PersistencePayload{
			ConversationTitle:           "Small talk",
			ConversationSummary:         "Nothing of substance.",
			ConversationImportanceScore: 2,
		},
	}
	f := newIngestionFixture(result)
	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)
	conv, _ := f.conversations.Get(context.Background(), testUser, testConv)
	assert.Equal(t, domain.ConversationProcessed, conv.Status)
	assert.Empty(t, f.publisher.CardEvents)
}

func TestIngestionUnknownEndpointCreatesFallbackConcept(t *testing.T) {
	result := careerChangeResult()
	result.PersistencePayload.NewRelationships = []synthesis.NewRelationship{
		{Source: "Product Management", Target: "Mentorship", Type: "contributes_to", Description: "mentorship supports the move", Strength: 0.6},
	}
	f := newIngestionFixture(result)

	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)

	var fallback *domain.Concept
	for _, c := range f.knowledge.Concepts {
		if c.Title == "Mentorship" {
			c := c
			fallback = &c
		}
	}
	require.NotNil(t, fallback, "expected auto-created fallback concept")
	assert.Equal(t, "auto_generated", fallback.ConceptType)
}

func TestIngestionGrowthDimensionEndpointIsSkipped(t *testing.T) {
	result := careerChangeResult()
	result.PersistencePayload.NewRelationships = []synthesis.NewRelationship{
		{Source: "Product Management", Target: "know_self", Type: "influences", Description: "influences self-knowledge"},
	}
	f := newIngestionFixture(result)

	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)

	for _, c := range f.knowledge.Concepts {
		assert.NotEqual(t, "know_self", c.Title)
	}
	for _, e := range f.graph.Edges {
		assert.NotEqual(t, "know_self", e.Target)
	}
}

func TestIngestionDuplicateDeliverySkipsWhileLocked(t *testing.T) {
	f := newIngestionFixture(careerChangeResult())
	f.locks.Denied[testUser+"|"+testConv] = true

	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)
	assert.Zero(t, f.synthesizer.Calls)
}

func TestIngestionBrokerOutageDoesNotFailJob(t *testing.T) {
	f := newIngestionFixture(careerChangeResult())
	f.publisher.Fail = true

	err := f.worker.Process(context.Background(), domain.IngestionJob{ConversationID: testConv, UserID: testUser})
	require.NoError(t, err)
	conv, _ := f.conversations.Get(context.Background(), testUser, testConv)
	assert.Equal(t, domain.ConversationProcessed, conv.Status)
}
