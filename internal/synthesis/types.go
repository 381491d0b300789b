package synthesis

import (
	"context"

	"mnemo/internal/llm"
)

// Caller is the retry-wrapped LLM entry point. *llm.Retrier satisfies it.
type Caller interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// SectionCache is the prompt-section cache surface used while assembling
// prompts. Reads falling back to recomputation and best-effort writes are the
// implementation's concern.
type SectionCache interface {
	GetPromptSection(ctx context.Context, sectionType, userID, conversationID, contextHash string) (string, bool)
	SetPromptSection(ctx context.Context, sectionType, userID, conversationID, contextHash, value string) error
}

// HolisticInput feeds one conversation into holistic synthesis.
type HolisticInput struct {
	UserID            string `json:"userId"`
	UserName          string `json:"userName"`
	ConversationID    string `json:"conversationId"`
	Transcript        string `json:"fullConversationTranscript"`
	UserMemoryProfile string `json:"userMemoryProfile"`
	WorkerType        string `json:"workerType"`
	WorkerJobID       string `json:"workerJobId"`
}

type ExtractedMemoryUnit struct {
	Title           string  `json:"title"`
	Content         string  `json:"content"`
	ImportanceScore float64 `json:"importance_score"`
	SentimentScore  float64 `json:"sentiment_score"`
}

type ExtractedConcept struct {
	Title           string  `json:"title"`
	Type            string  `json:"type"`
	Content         string  `json:"content"`
	ImportanceScore float64 `json:"importance_score"`
}

type DetectedGrowthEvent struct {
	Title               string   `json:"title"`
	Type                string   `json:"type"`
	Delta               float64  `json:"delta"`
	Content             string   `json:"content"`
	SourceMemoryUnitIDs []string `json:"source_memory_unit_ids"`
	SourceConceptIDs    []string `json:"source_concept_ids"`
}

type NewRelationship struct {
	Source      string  `json:"source_entity_id_or_name"`
	Target      string  `json:"target_entity_id_or_name"`
	Type        string  `json:"relationship_type"`
	Description string  `json:"relationship_description"`
	Strength    float64 `json:"strength"`
}

type PersistencePayload struct {
	ConversationTitle           string                `json:"conversation_title"`
	ConversationSummary         string                `json:"conversation_summary"`
	ConversationImportanceScore float64               `json:"conversation_importance_score"`
	ExtractedMemoryUnits        []ExtractedMemoryUnit `json:"extracted_memory_units"`
	ExtractedConcepts           []ExtractedConcept    `json:"extracted_concepts"`
	DetectedGrowthEvents        []DetectedGrowthEvent `json:"detected_growth_events"`
	NewRelationships            []NewRelationship     `json:"new_relationships"`
}

type HolisticResult struct {
	PersistencePayload    PersistencePayload `json:"persistence_payload"`
	ForwardLookingContext map[string]any     `json:"forward_looking_context"`
}

// ProactiveGreeting extracts the greeting string from the opaque
// forward-looking context.
func (r HolisticResult) ProactiveGreeting() string {
	if r.ForwardLookingContext == nil {
		return ""
	}
	if g, ok := r.ForwardLookingContext["proactive_greeting"].(string); ok {
		return g
	}
	return ""
}

// StrategicInput is the compiled cycle context for strategic synthesis.
type StrategicInput struct {
	UserID         string              `json:"userId"`
	UserName       string              `json:"userName"`
	CycleID        string              `json:"cycleId"`
	CycleStartDate string              `json:"cycleStartDate"`
	CycleEndDate   string              `json:"cycleEndDate"`
	KnowledgeGraph KnowledgeGraphView  `json:"currentKnowledgeGraph"`
	GrowthEvents   []GrowthEventView   `json:"recentGrowthEvents"`
	UserProfile    string              `json:"userProfile"`
	Conversations  []ConversationView  `json:"cycleConversationSummaries"`
}

type KnowledgeGraphView struct {
	MemoryUnits             []MemoryUnitView `json:"memoryUnits"`
	Concepts                []ConceptView    `json:"concepts"`
	ConceptsNeedingSynthesis []ConceptView   `json:"conceptsNeedingSynthesis"`
}

type MemoryUnitView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type ConceptView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type GrowthEventView struct {
	Dimension string  `json:"dimension"`
	Delta     float64 `json:"delta"`
	Rationale string  `json:"rationale"`
}

type ConversationView struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type ConceptMerge struct {
	PrimaryConceptID      string   `json:"primary_concept_id"`
	SecondaryConceptIDs   []string `json:"secondary_concept_ids"`
	NewConceptName        string   `json:"new_concept_name"`
	NewConceptDescription string   `json:"new_concept_description"`
	MergeRationale        string   `json:"merge_rationale"`
}

type ConceptArchive struct {
	ConceptID            string `json:"concept_id"`
	ArchiveRationale     string `json:"archive_rationale"`
	ReplacementConceptID string `json:"replacement_concept_id"`
}

type StrategicRelationship struct {
	SourceID       string  `json:"source_id"`
	TargetID       string  `json:"target_id"`
	Type           string  `json:"relationship_type"`
	Strength       float64 `json:"strength"`
	StrategicValue string  `json:"strategic_value"`
}

type CommunityStructure struct {
	CommunityID         string   `json:"community_id"` // ignored, regenerated
	MemberConceptIDs    []string `json:"member_concept_ids"`
	Theme               string   `json:"theme"`
	StrategicImportance string   `json:"strategic_importance"`
}

type ConceptDescriptionSynthesis struct {
	ConceptID              string `json:"concept_id"`
	SynthesizedDescription string `json:"synthesized_description"`
}

type OntologyOptimizations struct {
	ConceptsToMerge             []ConceptMerge                `json:"concepts_to_merge"`
	ConceptsToArchive           []ConceptArchive              `json:"concepts_to_archive"`
	NewStrategicRelationships   []StrategicRelationship       `json:"new_strategic_relationships"`
	CommunityStructures         []CommunityStructure          `json:"community_structures"`
	ConceptDescriptionSynthesis []ConceptDescriptionSynthesis `json:"concept_description_synthesis"`
}

type DerivedArtifactDraft struct {
	ArtifactType        string         `json:"artifact_type"`
	Title               string         `json:"title"`
	Content             string         `json:"content"`
	ContentData         map[string]any `json:"content_data"`
	SourceConceptIDs    []string       `json:"source_concept_ids"`
	SourceMemoryUnitIDs []string       `json:"source_memory_unit_ids"`
	ConfidenceScore     float64        `json:"confidence_score"`
	Actionability       string         `json:"actionability"`
}

type ProactivePromptDraft struct {
	Title              string `json:"title"`
	PromptText         string `json:"prompt_text"`
	PromptType         string `json:"prompt_type"`
	TimingSuggestion   string `json:"timing_suggestion"`
	PriorityLevel      int    `json:"priority_level"`
	ContextExplanation string `json:"context_explanation"`
}

type StrategicResult struct {
	OntologyOptimizations OntologyOptimizations  `json:"ontology_optimizations"`
	DerivedArtifacts      []DerivedArtifactDraft `json:"derived_artifacts"`
	ProactivePrompts      []ProactivePromptDraft `json:"proactive_prompts"`
}
