package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mnemo/internal/domain"
	"mnemo/internal/observability"
	"mnemo/internal/persistence"
	"mnemo/internal/synthesis"
)

const recentGrowthEventLimit = 20

// InsightWorker periodically elevates a user's accumulated graph into
// strategic artifacts and consolidates its ontology.
type InsightWorker struct {
	Users         persistence.UserStore
	Conversations persistence.ConversationStore
	Knowledge     persistence.KnowledgeStore
	Insights      persistence.InsightStore
	Cycles        persistence.CycleStore
	Graph         persistence.GraphStore
	Vectors       persistence.VectorStore
	Synthesizer   StrategicSynthesizer
	Publisher     EventPublisher

	CycleDurationDays int

	Now   func() time.Time
	NewID func() string
}

func (w *InsightWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *InsightWorker) newID() string {
	if w.NewID != nil {
		return w.NewID()
	}
	return uuid.NewString()
}

func (w *InsightWorker) Handle(ctx context.Context, payload []byte) error {
	var job domain.InsightJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode insight job: %w", err)
	}
	if job.UserID == "" {
		return fmt.Errorf("insight job missing user id")
	}
	return w.Process(ctx, job)
}

func (w *InsightWorker) Process(ctx context.Context, job domain.InsightJob) error {
	started := w.now()
	days := w.CycleDurationDays
	if days <= 0 {
		days = 2
	}
	cycle := domain.UserCycle{
		CycleID:        w.newID(),
		UserID:         job.UserID,
		Status:         domain.CycleRunning,
		CycleStartDate: started.AddDate(0, 0, -days),
		CycleEndDate:   started,
	}
	if err := w.Cycles.Create(ctx, cycle); err != nil {
		return fmt.Errorf("open cycle: %w", err)
	}

	log := observability.LoggerWithTrace(ctx).With().
		Str("user_id", job.UserID).
		Str("cycle_id", cycle.CycleID).
		Logger()

	input, err := w.compileContext(ctx, job.UserID, cycle)
	if err != nil {
		return w.closeFailed(ctx, cycle, started, fmt.Errorf("compile cycle context: %w", err))
	}

	result, err := w.Synthesizer.Synthesize(ctx, input)
	if err != nil {
		return w.closeFailed(ctx, cycle, started, err)
	}

	// From here on, per-item failures are swallowed so the cycle can still
	// close with partial success and accurate counts.
	errorCount := 0
	opt := result.OntologyOptimizations

	mergedPrimaries := w.applyMerges(ctx, job.UserID, opt.ConceptsToMerge, &cycle, &errorCount)
	w.applyArchives(ctx, job.UserID, opt.ConceptsToArchive, &errorCount)
	communities := w.applyCommunities(ctx, job.UserID, opt.CommunityStructures, &errorCount)
	w.applyStrategicRelationships(ctx, job.UserID, opt.NewStrategicRelationships, &cycle, &errorCount)
	w.applyDescriptionSynthesis(ctx, job.UserID, opt.ConceptDescriptionSynthesis, &errorCount)

	artifacts, prompts := w.createContentEntities(ctx, job.UserID, cycle.CycleID, result, &errorCount)
	cycle.ArtifactsCreated = len(artifacts)
	cycle.PromptsCreated = len(prompts)

	w.refreshUserState(ctx, job.UserID, cycle, result, prompts, &errorCount)

	w.fanOut(ctx, job.UserID, artifacts, prompts, communities, mergedPrimaries)

	cycle.Status = domain.CycleCompleted
	cycle.ErrorCount = errorCount
	cycle.DashboardReady = true
	cycle.ProcessingDurationMS = w.now().Sub(started).Milliseconds()
	if err := w.Cycles.Close(ctx, cycle); err != nil {
		return fmt.Errorf("close cycle: %w", err)
	}
	log.Info().
		Int("artifacts", cycle.ArtifactsCreated).
		Int("prompts", cycle.PromptsCreated).
		Int("merged", cycle.ConceptsMerged).
		Int("relationships", cycle.RelationshipsCreated).
		Int("errors", errorCount).
		Msg("insight cycle completed")
	return nil
}

func (w *InsightWorker) closeFailed(ctx context.Context, cycle domain.UserCycle, started time.Time, cause error) error {
	cycle.Status = domain.CycleFailed
	cycle.ErrorCount = 1
	cycle.DashboardReady = false
	cycle.ProcessingDurationMS = w.now().Sub(started).Milliseconds()
	if err := w.Cycles.Close(ctx, cycle); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).
			Str("cycle_id", cycle.CycleID).
			Msg("failed to close failed cycle")
	}
	return cause
}

func (w *InsightWorker) compileContext(ctx context.Context, userID string, cycle domain.UserCycle) (synthesis.StrategicInput, error) {
	user, err := w.Users.Get(ctx, userID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return synthesis.StrategicInput{}, err
	}
	conversations, err := w.Conversations.SummariesBetween(ctx, userID, cycle.CycleStartDate, cycle.CycleEndDate)
	if err != nil {
		return synthesis.StrategicInput{}, err
	}
	concepts, err := w.Knowledge.ActiveConcepts(ctx, userID)
	if err != nil {
		return synthesis.StrategicInput{}, err
	}
	memoryUnits, err := w.Knowledge.MemoryUnitsBetween(ctx, userID, cycle.CycleStartDate, cycle.CycleEndDate)
	if err != nil {
		return synthesis.StrategicInput{}, err
	}
	growthEvents, err := w.Knowledge.RecentGrowthEvents(ctx, userID, recentGrowthEventLimit)
	if err != nil {
		return synthesis.StrategicInput{}, err
	}
	needingSynthesis, err := w.Knowledge.ConceptsUpdatedSince(ctx, userID, cycle.CycleStartDate)
	if err != nil {
		return synthesis.StrategicInput{}, err
	}

	input := synthesis.StrategicInput{
		UserID:         userID,
		UserName:       user.Name,
		CycleID:        cycle.CycleID,
		CycleStartDate: cycle.CycleStartDate.Format(time.RFC3339),
		CycleEndDate:   cycle.CycleEndDate.Format(time.RFC3339),
		UserProfile:    user.MemoryProfile,
	}
	for _, c := range conversations {
		input.Conversations = append(input.Conversations, synthesis.ConversationView{Title: c.Title, Summary: c.Content})
	}
	for _, c := range concepts {
		input.KnowledgeGraph.Concepts = append(input.KnowledgeGraph.Concepts, synthesis.ConceptView{
			ID: c.ID, Title: c.Title, Type: c.ConceptType, Content: c.Content,
		})
	}
	for _, mu := range memoryUnits {
		input.KnowledgeGraph.MemoryUnits = append(input.KnowledgeGraph.MemoryUnits, synthesis.MemoryUnitView{
			ID: mu.ID, Title: mu.Title, Content: mu.Content,
		})
	}
	for _, ge := range growthEvents {
		input.GrowthEvents = append(input.GrowthEvents, synthesis.GrowthEventView{
			Dimension: ge.Dimension, Delta: ge.DeltaValue, Rationale: ge.Content,
		})
	}
	for _, c := range needingSynthesis {
		input.KnowledgeGraph.ConceptsNeedingSynthesis = append(input.KnowledgeGraph.ConceptsNeedingSynthesis, synthesis.ConceptView{
			ID: c.ID, Title: c.Title, Type: c.ConceptType, Content: c.Content,
		})
	}
	return input, nil
}

// applyMerges runs each merge across the three stores: relational status
// flips first, then the vector payload mirror, then the graph edge rewrite
// and secondary deletion. Returns the primary concepts for embedding fan-out.
func (w *InsightWorker) applyMerges(ctx context.Context, userID string, merges []synthesis.ConceptMerge, cycle *domain.UserCycle, errorCount *int) []domain.Concept {
	log := observability.LoggerWithTrace(ctx)
	var primaries []domain.Concept
	for _, m := range merges {
		if m.PrimaryConceptID == "" || len(m.SecondaryConceptIDs) == 0 {
			continue
		}
		if m.NewConceptName != "" || m.NewConceptDescription != "" {
			if err := w.Knowledge.RenameConcept(ctx, userID, m.PrimaryConceptID, m.NewConceptName, m.NewConceptDescription); err != nil {
				log.Warn().Err(err).Str("concept_id", m.PrimaryConceptID).Msg("merge primary rename failed")
				*errorCount++
			}
		}
		mergedHere := 0
		for _, secID := range m.SecondaryConceptIDs {
			if err := w.Knowledge.MarkConceptMerged(ctx, userID, secID, m.PrimaryConceptID); err != nil {
				if errors.Is(err, persistence.ErrNotFound) {
					// Already merged or archived; status transitions are one-way.
					log.Debug().Str("concept_id", secID).Msg("merge secondary not active, skipping")
					continue
				}
				log.Warn().Err(err).Str("concept_id", secID).Msg("merge secondary status update failed")
				*errorCount++
				continue
			}
			if err := w.Vectors.SetStatus(ctx, userID, secID, string(domain.ConceptMerged)); err != nil {
				log.Warn().Err(err).Str("concept_id", secID).Msg("vector status mirror failed")
				*errorCount++
			}
			mergedHere++
		}
		if mergedHere == 0 {
			continue
		}
		primaryProps := map[string]any{}
		if m.NewConceptName != "" {
			primaryProps["title"] = m.NewConceptName
		}
		if m.NewConceptDescription != "" {
			primaryProps["content"] = m.NewConceptDescription
		}
		primaryProps["merge_rationale"] = m.MergeRationale
		if err := w.Graph.MergeConcepts(ctx, userID, m.PrimaryConceptID, primaryProps, m.SecondaryConceptIDs); err != nil {
			log.Error().Err(err).Str("concept_id", m.PrimaryConceptID).Msg("graph merge failed")
			*errorCount++
			continue
		}
		cycle.ConceptsMerged += mergedHere
		if c, err := w.Knowledge.GetConcept(ctx, userID, m.PrimaryConceptID); err == nil {
			primaries = append(primaries, c)
		}
	}
	return primaries
}

func (w *InsightWorker) applyArchives(ctx context.Context, userID string, archives []synthesis.ConceptArchive, errorCount *int) {
	log := observability.LoggerWithTrace(ctx)
	for _, a := range archives {
		if a.ConceptID == "" {
			continue
		}
		if err := w.Knowledge.MarkConceptArchived(ctx, userID, a.ConceptID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				log.Debug().Str("concept_id", a.ConceptID).Msg("archive target not active, skipping")
				continue
			}
			log.Warn().Err(err).Str("concept_id", a.ConceptID).Msg("concept archive failed")
			*errorCount++
			continue
		}
		if err := w.Vectors.SetStatus(ctx, userID, a.ConceptID, string(domain.ConceptArchived)); err != nil {
			log.Warn().Err(err).Str("concept_id", a.ConceptID).Msg("vector status mirror failed")
			*errorCount++
		}
		if err := w.Graph.ArchiveConcept(ctx, userID, a.ConceptID, a.ArchiveRationale); err != nil {
			log.Warn().Err(err).Str("concept_id", a.ConceptID).Msg("graph archive failed")
			*errorCount++
		}
	}
}

// applyCommunities regenerates community ids, inserts the rows, assigns
// members, and creates the graph structures.
func (w *InsightWorker) applyCommunities(ctx context.Context, userID string, structures []synthesis.CommunityStructure, errorCount *int) []domain.Community {
	log := observability.LoggerWithTrace(ctx)
	var out []domain.Community
	for _, cs := range structures {
		if len(cs.MemberConceptIDs) == 0 {
			continue
		}
		community := domain.Community{
			ID:               w.newID(),
			UserID:           userID,
			Title:            cs.Theme,
			Content:          cs.StrategicImportance,
			MemberConceptIDs: cs.MemberConceptIDs,
			CreatedAt:        w.now(),
		}
		if err := w.Insights.InsertCommunity(ctx, community); err != nil {
			log.Warn().Err(err).Str("theme", cs.Theme).Msg("community insert failed")
			*errorCount++
			continue
		}
		for _, conceptID := range cs.MemberConceptIDs {
			if err := w.Knowledge.SetConceptCommunity(ctx, userID, conceptID, community.ID); err != nil {
				log.Warn().Err(err).Str("concept_id", conceptID).Msg("community member assignment failed")
				*errorCount++
			}
		}
		if err := w.Graph.CreateCommunity(ctx, community); err != nil {
			log.Warn().Err(err).Str("community_id", community.ID).Msg("graph community failed")
			*errorCount++
		}
		out = append(out, community)
	}
	return out
}

func (w *InsightWorker) applyStrategicRelationships(ctx context.Context, userID string, rels []synthesis.StrategicRelationship, cycle *domain.UserCycle, errorCount *int) {
	if len(rels) == 0 {
		return
	}
	log := observability.LoggerWithTrace(ctx)
	for _, r := range rels {
		if r.SourceID == "" || r.TargetID == "" {
			continue
		}
		rel := domain.Relationship{
			RelationshipID: w.newID(),
			Type:           "STRATEGIC_RELATIONSHIP",
			SourceEntityID: r.SourceID,
			TargetEntityID: r.TargetID,
			UserID:         userID,
			Strength:       r.Strength,
			Description:    r.Type,
			SourceAgent:    domain.SourceInsight,
			StrategicValue: r.StrategicValue,
			CreatedAt:      w.now(),
		}
		err := w.Graph.Write(ctx, func(tx persistence.GraphTx) error {
			return tx.CreateRelationship(rel)
		})
		if err != nil {
			log.Warn().Err(err).Str("source", r.SourceID).Str("target", r.TargetID).Msg("strategic relationship failed")
			*errorCount++
			continue
		}
		cycle.RelationshipsCreated++
	}
}

func (w *InsightWorker) applyDescriptionSynthesis(ctx context.Context, userID string, items []synthesis.ConceptDescriptionSynthesis, errorCount *int) {
	log := observability.LoggerWithTrace(ctx)
	for _, item := range items {
		if item.ConceptID == "" || len(item.SynthesizedDescription) < 3 {
			continue
		}
		if err := w.Knowledge.UpdateConceptDescription(ctx, userID, item.ConceptID, item.SynthesizedDescription); err != nil {
			if !errors.Is(err, persistence.ErrNotFound) {
				log.Warn().Err(err).Str("concept_id", item.ConceptID).Msg("description synthesis failed")
				*errorCount++
			}
			continue
		}
		err := w.Graph.Write(ctx, func(tx persistence.GraphTx) error {
			return tx.UpsertNode("Concept", map[string]any{
				"entity_id": item.ConceptID,
				"user_id":   userID,
				"content":   item.SynthesizedDescription,
			})
		})
		if err != nil {
			log.Warn().Err(err).Str("concept_id", item.ConceptID).Msg("graph description update failed")
			*errorCount++
		}
	}
}

// createContentEntities inserts each derived artifact and proactive prompt,
// mirrors it to the graph, and draws DERIVED_FROM edges to its sources.
func (w *InsightWorker) createContentEntities(ctx context.Context, userID, cycleID string, result synthesis.StrategicResult, errorCount *int) ([]domain.DerivedArtifact, []domain.ProactivePrompt) {
	log := observability.LoggerWithTrace(ctx)
	var artifacts []domain.DerivedArtifact
	var prompts []domain.ProactivePrompt

	for _, draft := range result.DerivedArtifacts {
		artifact := domain.DerivedArtifact{
			ID:                  w.newID(),
			UserID:              userID,
			CycleID:             cycleID,
			ArtifactType:        draft.ArtifactType,
			Title:               draft.Title,
			ContentNarrative:    draft.Content,
			ContentData:         draft.ContentData,
			SourceConceptIDs:    draft.SourceConceptIDs,
			SourceMemoryUnitIDs: draft.SourceMemoryUnitIDs,
			CreatedAt:           w.now(),
		}
		if err := w.Insights.InsertArtifact(ctx, artifact); err != nil {
			log.Warn().Err(err).Str("title", draft.Title).Msg("artifact insert failed")
			*errorCount++
			continue
		}
		if err := w.mirrorContentEntity(ctx, artifact, append(draft.SourceConceptIDs, draft.SourceMemoryUnitIDs...)); err != nil {
			log.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("artifact graph mirror failed")
			*errorCount++
		}
		artifacts = append(artifacts, artifact)
	}

	for _, draft := range result.ProactivePrompts {
		if draft.PromptText == "" {
			continue
		}
		prompt := domain.ProactivePrompt{
			ID:          w.newID(),
			UserID:      userID,
			CycleID:     cycleID,
			PromptText:  draft.PromptText,
			SourceAgent: domain.SourceInsight,
			Metadata: domain.PromptMetadata{
				PromptType:       draft.PromptType,
				TimingSuggestion: draft.TimingSuggestion,
				PriorityLevel:    draft.PriorityLevel,
			},
			CreatedAt: w.now(),
		}
		if err := w.Insights.InsertPrompt(ctx, prompt); err != nil {
			log.Warn().Err(err).Str("title", draft.Title).Msg("prompt insert failed")
			*errorCount++
			continue
		}
		if err := w.mirrorContentEntity(ctx, prompt, nil); err != nil {
			log.Warn().Err(err).Str("prompt_id", prompt.ID).Msg("prompt graph mirror failed")
			*errorCount++
		}
		prompts = append(prompts, prompt)
	}
	return artifacts, prompts
}

func (w *InsightWorker) mirrorContentEntity(ctx context.Context, e domain.Entity, sourceIDs []string) error {
	return w.Graph.Write(ctx, func(tx persistence.GraphTx) error {
		if err := tx.UpsertNode(domain.GraphLabel(e.Type()), domain.GraphProperties(e, domain.SourceInsight)); err != nil {
			return err
		}
		for _, sourceID := range sourceIDs {
			if sourceID == "" {
				continue
			}
			err := tx.CreateRelationship(domain.Relationship{
				RelationshipID: w.newID(),
				Type:           "DERIVED_FROM",
				SourceEntityID: e.EntityID(),
				TargetEntityID: sourceID,
				UserID:         e.OwnerID(),
				Strength:       1,
				SourceAgent:    domain.SourceInsight,
				CreatedAt:      w.now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// refreshUserState rewrites the memory profile summary and the next
// conversation context package.
func (w *InsightWorker) refreshUserState(ctx context.Context, userID string, cycle domain.UserCycle, result synthesis.StrategicResult, prompts []domain.ProactivePrompt, errorCount *int) {
	log := observability.LoggerWithTrace(ctx)

	var keyInsights []string
	for _, a := range result.DerivedArtifacts {
		keyInsights = append(keyInsights, a.Title)
	}
	profile := fmt.Sprintf(
		"Cycle %s (%s - %s): %d artifacts, %d prompts, %d concepts merged.",
		cycle.CycleID,
		cycle.CycleStartDate.Format("2006-01-02"),
		cycle.CycleEndDate.Format("2006-01-02"),
		cycle.ArtifactsCreated, cycle.PromptsCreated, cycle.ConceptsMerged,
	)
	if len(keyInsights) > 0 {
		profile += " Key insights: "
		for i, ins := range keyInsights {
			if i > 0 {
				profile += "; "
			}
			profile += ins
		}
		profile += "."
	}
	if err := w.Users.UpdateMemoryProfile(ctx, userID, profile); err != nil {
		log.Warn().Err(err).Msg("memory profile update failed")
		*errorCount++
	}

	var starters []string
	for _, p := range prompts {
		if p.Metadata.TimingSuggestion == "next_conversation" {
			starters = append(starters, p.PromptText)
		}
	}
	pkg := map[string]any{
		"cycle_id":              cycle.CycleID,
		"conversation_starters": starters,
	}
	if err := w.Users.UpdateNextConversationContext(ctx, userID, pkg); err != nil {
		log.Warn().Err(err).Msg("next conversation context update failed")
		*errorCount++
	}
}

// fanOut publishes embedding jobs for content entities and merged-concept
// primaries, a cycle_artifacts_created event to the card queue (content
// entities only), and one to the graph queue (all new entities).
func (w *InsightWorker) fanOut(ctx context.Context, userID string, artifacts []domain.DerivedArtifact, prompts []domain.ProactivePrompt, communities []domain.Community, mergedPrimaries []domain.Concept) {
	log := observability.LoggerWithTrace(ctx)

	var textual []domain.TextualEntity
	var contentRefs []domain.EntityRef
	for _, a := range artifacts {
		textual = append(textual, a)
		contentRefs = append(contentRefs, domain.EntityRef{ID: a.ID, Type: a.Type()})
	}
	for _, p := range prompts {
		textual = append(textual, p)
		contentRefs = append(contentRefs, domain.EntityRef{ID: p.ID, Type: p.Type()})
	}
	for _, c := range communities {
		textual = append(textual, c)
		contentRefs = append(contentRefs, domain.EntityRef{ID: c.ID, Type: c.Type()})
	}
	for _, c := range mergedPrimaries {
		textual = append(textual, c)
	}

	allRefs := make([]domain.EntityRef, len(contentRefs))
	copy(allRefs, contentRefs)
	for _, c := range mergedPrimaries {
		allRefs = append(allRefs, domain.EntityRef{ID: c.ID, Type: c.Type()})
	}
	if len(allRefs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutParallelism)
	for _, te := range textual {
		te := te
		g.Go(func() error {
			err := w.Publisher.PublishEmbeddingJob(gctx, domain.EmbeddingJob{
				EntityID:    te.EntityID(),
				EntityType:  te.Type(),
				TextContent: te.TextContent(),
				UserID:      te.OwnerID(),
			})
			if err != nil {
				log.Error().Err(err).Str("entity_id", te.EntityID()).Msg("embedding job enqueue failed")
			}
			return nil
		})
	}
	if len(contentRefs) > 0 {
		cardEvent := domain.EntityEvent{
			Type:      domain.EventCycleArtifactsCreated,
			UserID:    userID,
			Source:    domain.SourceInsight,
			Timestamp: w.now(),
			Entities:  contentRefs,
		}
		g.Go(func() error {
			if err := w.Publisher.PublishCardEvent(gctx, cardEvent); err != nil {
				log.Error().Err(err).Msg("card event enqueue failed")
			}
			return nil
		})
	}
	graphEvent := domain.EntityEvent{
		Type:      domain.EventCycleArtifactsCreated,
		UserID:    userID,
		Source:    domain.SourceInsight,
		Timestamp: w.now(),
		Entities:  allRefs,
	}
	g.Go(func() error {
		if err := w.Publisher.PublishGraphEvent(gctx, graphEvent); err != nil {
			log.Error().Err(err).Msg("graph event enqueue failed")
		}
		return nil
	})
	_ = g.Wait()
}
