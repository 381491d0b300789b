package synthesis

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/llm"
)

type cannedCaller struct {
	response string
	err      error
	lastReq  llm.CompletionRequest
}

func (c *cannedCaller) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	c.lastReq = req
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

type memorySectionCache struct {
	mu    sync.Mutex
	store map[string]string
	gets  int
	hits  int
}

func newMemorySectionCache() *memorySectionCache {
	return &memorySectionCache{store: map[string]string{}}
}

func (c *memorySectionCache) key(sectionType, userID, conversationID, hash string) string {
	return sectionType + ":" + userID + ":" + conversationID + ":" + hash
}

func (c *memorySectionCache) GetPromptSection(_ context.Context, sectionType, userID, conversationID, hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.store[c.key(sectionType, userID, conversationID, hash)]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *memorySectionCache) SetPromptSection(_ context.Context, sectionType, userID, conversationID, hash, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[c.key(sectionType, userID, conversationID, hash)] = value
	return nil
}

func TestHolisticSynthesizeParsesResult(t *testing.T) {
	caller := &cannedCaller{response: validPayload()}
	h := &Holistic{LLM: caller, MaxTokens: 1024}

	result, err := h.Synthesize(context.Background(), HolisticInput{
		UserID:     "u1",
		UserName:   "Dana",
		Transcript: "user: hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "a summary long enough to matter", result.PersistencePayload.ConversationSummary)
	assert.Equal(t, "hi", result.ProactiveGreeting())
	assert.Contains(t, caller.lastReq.User, "user: hello")
	assert.Contains(t, caller.lastReq.User, "Dana")
	assert.Equal(t, 1024, caller.lastReq.MaxTokens)
}

func TestHolisticSynthesizeUsesSectionCache(t *testing.T) {
	caller := &cannedCaller{response: validPayload()}
	sections := newMemorySectionCache()
	h := &Holistic{LLM: caller, Cache: sections}

	_, err := h.Synthesize(context.Background(), HolisticInput{UserID: "u1", Transcript: "t"})
	require.NoError(t, err)
	_, err = h.Synthesize(context.Background(), HolisticInput{UserID: "u1", Transcript: "t"})
	require.NoError(t, err)

	assert.Equal(t, 4, sections.gets)
	assert.Equal(t, 2, sections.hits, "second run should hit both cached sections")
}

func TestHolisticSynthesizeRejectsMissingSummary(t *testing.T) {
	payload := `{"persistence_payload": {"conversation_title": "only a title, nothing else here",
  "extracted_memory_units": [], "extracted_concepts": []}, "forward_looking_context": {}}`
	caller := &cannedCaller{response: payload}
	h := &Holistic{LLM: caller}

	_, err := h.Synthesize(context.Background(), HolisticInput{UserID: "u1"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestStrategicSynthesizeParsesResult(t *testing.T) {
	response := `{
  "ontology_optimizations": {
    "concepts_to_merge": [{"primary_concept_id": "a", "secondary_concept_ids": ["b"],
      "new_concept_name": "ab", "new_concept_description": "merged", "merge_rationale": "dupes"}],
    "concepts_to_archive": [],
    "new_strategic_relationships": [],
    "community_structures": [],
    "concept_description_synthesis": []
  },
  "derived_artifacts": [],
  "proactive_prompts": []
}`
	caller := &cannedCaller{response: response}
	s := &Strategic{LLM: caller}

	result, err := s.Synthesize(context.Background(), StrategicInput{UserID: "u1", CycleID: "cy1"})
	require.NoError(t, err)
	require.Len(t, result.OntologyOptimizations.ConceptsToMerge, 1)
	assert.Equal(t, "a", result.OntologyOptimizations.ConceptsToMerge[0].PrimaryConceptID)
	assert.Contains(t, caller.lastReq.User, `"cycleId":"cy1"`)
}
