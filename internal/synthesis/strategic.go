package synthesis

import (
	"context"
	"encoding/json"
	"fmt"

	"mnemo/internal/llm"
)

const strategicIdentity = `You are the strategist of a personal memory system. You review everything a
user's knowledge graph accumulated during one cycle and decide how to
consolidate it: which concepts to merge or archive, which communities to form,
which strategic relationships to draw, and which artifacts and prompts to
produce. You answer with a single JSON object and nothing else.`

const strategicInstructions = `Produce a JSON object with this exact shape:
{
  "ontology_optimizations": {
    "concepts_to_merge": [{"primary_concept_id", "secondary_concept_ids", "new_concept_name", "new_concept_description", "merge_rationale"}],
    "concepts_to_archive": [{"concept_id", "archive_rationale", "replacement_concept_id"}],
    "new_strategic_relationships": [{"source_id", "target_id", "relationship_type", "strength", "strategic_value"}],
    "community_structures": [{"community_id", "member_concept_ids", "theme", "strategic_importance"}],
    "concept_description_synthesis": [{"concept_id", "synthesized_description"}]
  },
  "derived_artifacts": [{"artifact_type", "title", "content", "content_data", "source_concept_ids", "source_memory_unit_ids", "confidence_score", "actionability"}],
  "proactive_prompts": [{"title", "prompt_text", "prompt_type", "timing_suggestion", "priority_level", "context_explanation"}]
}
Only reference concept ids that appear in the provided graph. Use
timing_suggestion "next_conversation" for prompts the next conversation
should open with.`

// Strategic runs one insight cycle's synthesis over the compiled context.
type Strategic struct {
	LLM       Caller
	Cache     SectionCache
	MaxTokens int
}

func (s *Strategic) Synthesize(ctx context.Context, in StrategicInput) (StrategicResult, error) {
	system := s.section(ctx, "core_identity", in.UserID, strategicIdentity)
	instructions := s.section(ctx, "operational_config", in.UserID, strategicInstructions)

	contextJSON, err := json.Marshal(in)
	if err != nil {
		return StrategicResult{}, fmt.Errorf("marshal strategic context: %w", err)
	}
	user := fmt.Sprintf("%s\n\nCycle context:\n%s", instructions, contextJSON)

	raw, err := s.LLM.Complete(ctx, llm.CompletionRequest{
		System:    system,
		User:      user,
		MaxTokens: s.MaxTokens,
	})
	if err != nil {
		return StrategicResult{}, fmt.Errorf("strategic synthesis: %w", err)
	}

	var result StrategicResult
	if err := decodeStructured(raw, &result); err != nil {
		return StrategicResult{}, err
	}
	return result, nil
}

func (s *Strategic) section(ctx context.Context, sectionType, userID, value string) string {
	if s.Cache == nil {
		return value
	}
	if cached, ok := s.Cache.GetPromptSection(ctx, sectionType, userID, "", ""); ok {
		return cached
	}
	_ = s.Cache.SetPromptSection(ctx, sectionType, userID, "", "", value)
	return value
}
