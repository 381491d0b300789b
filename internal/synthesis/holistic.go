package synthesis

import (
	"context"
	"fmt"

	"mnemo/internal/llm"
	"mnemo/internal/observability"
)

const holisticIdentity = `You are the knowledge analyst of a personal memory system. You read one
finished conversation and distill it into durable knowledge: memory units,
concepts, growth events, and relationships. You answer with a single JSON
object and nothing else.`

const holisticInstructions = `Produce a JSON object with this exact shape:
{
  "persistence_payload": {
    "conversation_title": string,
    "conversation_summary": string,
    "conversation_importance_score": number (0..10),
    "extracted_memory_units": [{"title", "content", "importance_score", "sentiment_score"}],
    "extracted_concepts": [{"title", "type", "content", "importance_score"}],
    "detected_growth_events": [{"title", "type", "delta", "content", "source_memory_unit_ids", "source_concept_ids"}],
    "new_relationships": [{"source_entity_id_or_name", "target_entity_id_or_name", "relationship_type", "relationship_description", "strength"}]
  },
  "forward_looking_context": {"proactive_greeting": string}
}
Concept types: theme, person, skill, location, emotion, experience, knowledge, goal, challenge.
Growth event types: act_self, know_world, act_world, know_self.
Importance below 1 means the conversation carries nothing worth remembering.`

// Holistic turns one conversation transcript into the persistence payload.
// Transient model failures are retried inside the Caller; every error
// returned from Synthesize is terminal for the calling job.
type Holistic struct {
	LLM       Caller
	Cache     SectionCache
	MaxTokens int
}

func (h *Holistic) Synthesize(ctx context.Context, in HolisticInput) (HolisticResult, error) {
	system := h.section(ctx, "core_identity", in.UserID, "", holisticIdentity)
	instructions := h.section(ctx, "operational_config", in.UserID, "", holisticInstructions)

	user := fmt.Sprintf(`%s

User name: %s
User memory profile:
%s

Conversation transcript:
%s`, instructions, in.UserName, in.UserMemoryProfile, in.Transcript)

	raw, err := h.LLM.Complete(ctx, llm.CompletionRequest{
		System:    system,
		User:      user,
		MaxTokens: h.MaxTokens,
	})
	if err != nil {
		return HolisticResult{}, fmt.Errorf("holistic synthesis: %w", err)
	}

	var result HolisticResult
	if err := decodeStructured(raw, &result); err != nil {
		return HolisticResult{}, err
	}
	if result.PersistencePayload.ConversationSummary == "" {
		return HolisticResult{}, &ValidationError{Reason: "missing conversation_summary"}
	}
	return result, nil
}

// section reads a prompt section through the cache, recomputing (here: the
// static text) on miss. Writes are best-effort.
func (h *Holistic) section(ctx context.Context, sectionType, userID, conversationID, value string) string {
	if h.Cache == nil {
		return value
	}
	if cached, ok := h.Cache.GetPromptSection(ctx, sectionType, userID, conversationID, ""); ok {
		return cached
	}
	if err := h.Cache.SetPromptSection(ctx, sectionType, userID, conversationID, "", value); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("section", sectionType).Msg("prompt section cache write rejected")
	}
	return value
}
