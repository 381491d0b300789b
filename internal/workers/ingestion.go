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

const (
	ingestionLockTTL  = 10 * time.Minute
	fanOutParallelism = 8
)

// IngestionWorker transforms one finished conversation into graph-structured
// knowledge exactly once.
type IngestionWorker struct {
	Conversations persistence.ConversationStore
	Users         persistence.UserStore
	Knowledge     persistence.KnowledgeStore
	Graph         persistence.GraphStore
	Synthesizer   HolisticSynthesizer
	Similarity    SimilarityResolver
	Publisher     EventPublisher
	Locks         ConversationLocks

	ImportanceThreshold float64
	ReuseThreshold      float64

	// Now and NewID are test seams; zero values use the clock and uuid.
	Now   func() time.Time
	NewID func() string
}

func (w *IngestionWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *IngestionWorker) newID() string {
	if w.NewID != nil {
		return w.NewID()
	}
	return uuid.NewString()
}

// Handle decodes one queue message. Returned errors are terminal: the broker
// runs with attempts=1. Errors from Process come after the conversation has
// been marked failed; decode and missing-id errors mark nothing.
func (w *IngestionWorker) Handle(ctx context.Context, payload []byte) error {
	var job domain.IngestionJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode ingestion job: %w", err)
	}
	if job.ConversationID == "" || job.UserID == "" {
		return fmt.Errorf("ingestion job missing conversation or user id")
	}
	return w.Process(ctx, job)
}

func (w *IngestionWorker) Process(ctx context.Context, job domain.IngestionJob) error {
	log := observability.LoggerWithTrace(ctx).With().
		Str("user_id", job.UserID).
		Str("conversation_id", job.ConversationID).
		Logger()

	conv, err := w.Conversations.Get(ctx, job.UserID, job.ConversationID)
	if errors.Is(err, persistence.ErrNotFound) {
		log.Warn().Msg("ingestion job for unknown conversation, skipping")
		return nil
	}
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("load conversation: %w", err))
	}
	if conv.Status == domain.ConversationProcessed {
		log.Info().Msg("conversation already processed, skipping")
		return nil
	}

	if w.Locks != nil {
		acquired, err := w.Locks.AcquireIngestionLock(ctx, job.UserID, job.ConversationID, ingestionLockTTL)
		if err != nil {
			return w.fail(ctx, job, fmt.Errorf("acquire ingestion lock: %w", err))
		}
		if !acquired {
			log.Info().Msg("conversation is being ingested elsewhere, skipping duplicate delivery")
			return nil
		}
		defer w.Locks.ReleaseIngestionLock(ctx, job.UserID, job.ConversationID)
		w.Locks.ClearConversationTimeout(ctx, job.UserID, job.ConversationID)
	}

	transcript, err := w.Conversations.Transcript(ctx, job.UserID, job.ConversationID)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("load transcript: %w", err))
	}
	user, err := w.Users.Get(ctx, job.UserID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return w.fail(ctx, job, fmt.Errorf("load user: %w", err))
	}

	result, err := w.Synthesizer.Synthesize(ctx, synthesis.HolisticInput{
		UserID:            job.UserID,
		UserName:          user.Name,
		ConversationID:    job.ConversationID,
		Transcript:        transcript,
		UserMemoryProfile: user.MemoryProfile,
		WorkerType:        "ingestion-worker",
	})
	if err != nil {
		return w.fail(ctx, job, err)
	}
	payload := result.PersistencePayload

	conv.Title = payload.ConversationTitle
	conv.Content = payload.ConversationSummary
	conv.ImportanceScore = payload.ConversationImportanceScore
	conv.Status = domain.ConversationProcessed
	conv.ProactiveGreeting = result.ProactiveGreeting()
	conv.ForwardLookingContext = result.ForwardLookingContext

	// Importance gate: below threshold only the summary survives. At the
	// threshold, entities are created.
	if payload.ConversationImportanceScore < w.ImportanceThreshold {
		log.Info().
			Float64("importance", payload.ConversationImportanceScore).
			Float64("threshold", w.ImportanceThreshold).
			Msg("conversation below importance threshold, persisting summary only")
		if err := w.Conversations.Finalize(ctx, conv); err != nil {
			return w.fail(ctx, job, fmt.Errorf("finalize conversation: %w", err))
		}
		return nil
	}

	plan, err := w.resolveEntities(ctx, job, payload)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	if err := w.persist(ctx, job, payload, plan); err != nil {
		return w.fail(ctx, job, fmt.Errorf("persist extraction: %w", err))
	}

	if err := w.Conversations.Finalize(ctx, conv); err != nil {
		return w.fail(ctx, job, fmt.Errorf("finalize conversation: %w", err))
	}

	w.fanOut(ctx, job, plan)
	log.Info().
		Int("memory_units", len(plan.newMemoryUnits)).
		Int("concepts", len(plan.newConcepts)).
		Int("growth_events", len(plan.growthEvents)).
		Int("relationships", plan.relationshipCount).
		Msg("conversation ingested")
	return nil
}

// fail marks the conversation failed with the error message in its content
// field, then returns the original error for terminal logging.
func (w *IngestionWorker) fail(ctx context.Context, job domain.IngestionJob, cause error) error {
	if err := w.Conversations.MarkFailed(ctx, job.UserID, job.ConversationID, cause.Error()); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).
			Str("conversation_id", job.ConversationID).
			Msg("failed to mark conversation failed")
	}
	return cause
}

// ingestionPlan is the dedup-resolved working set for one conversation.
type ingestionPlan struct {
	// entityMappings resolves candidate names (and known UUIDs) to entity ids.
	entityMappings map[string]string

	newMemoryUnits    []domain.MemoryUnit
	reusedMemoryUnits []reusedEntity
	newConcepts       []domain.Concept
	reusedConcepts    []reusedEntity
	growthEvents      []domain.GrowthEvent
	relationshipCount int
}

type reusedEntity struct {
	entityID string
	addition string // date-tagged content appended to the existing description
}

// resolveEntities runs semantic deduplication and builds the entity mapping
// table. Candidates scoring above the reuse threshold resolve to the existing
// entity; everything else gets a fresh id.
func (w *IngestionWorker) resolveEntities(ctx context.Context, job domain.IngestionJob, payload synthesis.PersistencePayload) (*ingestionPlan, error) {
	now := w.now()
	dateTag := now.Format("2006-01-02")
	plan := &ingestionPlan{entityMappings: map[string]string{}}

	conceptNames := make([]string, 0, len(payload.ExtractedConcepts))
	for _, c := range payload.ExtractedConcepts {
		conceptNames = append(conceptNames, c.Title)
	}
	conceptMatches, err := w.Similarity.BestMatches(ctx, job.UserID, domain.TypeConcept, conceptNames)
	if err != nil {
		return nil, fmt.Errorf("concept dedup: %w", err)
	}
	for i, c := range payload.ExtractedConcepts {
		m := conceptMatches[i]
		if m.Found && m.SimilarityScore > w.ReuseThreshold {
			plan.entityMappings[c.Title] = m.EntityID
			plan.reusedConcepts = append(plan.reusedConcepts, reusedEntity{
				entityID: m.EntityID,
				addition: fmt.Sprintf("[%s] %s", dateTag, c.Content),
			})
			continue
		}
		id := w.newID()
		plan.entityMappings[c.Title] = id
		plan.newConcepts = append(plan.newConcepts, domain.Concept{
			ID:              id,
			UserID:          job.UserID,
			Title:           c.Title,
			ConceptType:     defaultString(c.Type, "theme"),
			Content:         c.Content,
			ImportanceScore: c.ImportanceScore,
			Status:          domain.ConceptActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	muKeys := make([]string, 0, len(payload.ExtractedMemoryUnits))
	for _, mu := range payload.ExtractedMemoryUnits {
		muKeys = append(muKeys, mu.Title+"\n"+mu.Content)
	}
	muMatches, err := w.Similarity.BestMatches(ctx, job.UserID, domain.TypeMemoryUnit, muKeys)
	if err != nil {
		return nil, fmt.Errorf("memory unit dedup: %w", err)
	}
	for i, mu := range payload.ExtractedMemoryUnits {
		m := muMatches[i]
		if m.Found && m.SimilarityScore > w.ReuseThreshold {
			plan.entityMappings[mu.Title] = m.EntityID
			plan.reusedMemoryUnits = append(plan.reusedMemoryUnits, reusedEntity{
				entityID: m.EntityID,
				addition: fmt.Sprintf("[%s] %s", dateTag, mu.Content),
			})
			continue
		}
		id := w.newID()
		plan.entityMappings[mu.Title] = id
		plan.newMemoryUnits = append(plan.newMemoryUnits, domain.MemoryUnit{
			ID:                   id,
			UserID:               job.UserID,
			Title:                mu.Title,
			Content:              mu.Content,
			ImportanceScore:      mu.ImportanceScore,
			SentimentScore:       mu.SentimentScore,
			SourceConversationID: job.ConversationID,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}

	for _, ge := range payload.DetectedGrowthEvents {
		plan.growthEvents = append(plan.growthEvents, domain.GrowthEvent{
			ID:                  w.newID(),
			UserID:              job.UserID,
			Title:               ge.Title,
			Dimension:           ge.Type,
			DeltaValue:          ge.Delta,
			Content:             ge.Content,
			SourceMemoryUnitIDs: resolveIDs(ge.SourceMemoryUnitIDs, plan.entityMappings),
			SourceConceptIDs:    resolveIDs(ge.SourceConceptIDs, plan.entityMappings),
			CreatedAt:           now,
		})
	}
	return plan, nil
}

// persist writes the plan inside one graph transaction. Relational inserts
// happen alongside the graph writes; the graph commit is the atomicity
// boundary for the batch.
func (w *IngestionWorker) persist(ctx context.Context, job domain.IngestionJob, payload synthesis.PersistencePayload, plan *ingestionPlan) error {
	log := observability.LoggerWithTrace(ctx)
	now := w.now()

	return w.Graph.Write(ctx, func(tx persistence.GraphTx) error {
		for _, mu := range plan.newMemoryUnits {
			if err := w.Knowledge.InsertMemoryUnit(ctx, mu); err != nil {
				return fmt.Errorf("insert memory unit %q: %w", mu.Title, err)
			}
			if err := tx.UpsertNode(domain.GraphLabel(mu.Type()), domain.GraphProperties(mu, domain.SourceIngestion)); err != nil {
				return fmt.Errorf("graph memory unit %q: %w", mu.Title, err)
			}
		}
		for _, r := range plan.reusedMemoryUnits {
			if err := w.Knowledge.AppendMemoryUnitContent(ctx, job.UserID, r.entityID, r.addition); err != nil {
				return fmt.Errorf("append memory unit %s: %w", r.entityID, err)
			}
			if err := tx.AppendNodeContent(r.entityID, job.UserID, r.addition); err != nil {
				return fmt.Errorf("graph append %s: %w", r.entityID, err)
			}
		}
		for _, c := range plan.newConcepts {
			if err := w.Knowledge.InsertConcept(ctx, c); err != nil {
				return fmt.Errorf("insert concept %q: %w", c.Title, err)
			}
			if err := tx.UpsertNode(domain.GraphLabel(c.Type()), domain.GraphProperties(c, domain.SourceIngestion)); err != nil {
				return fmt.Errorf("graph concept %q: %w", c.Title, err)
			}
		}
		for _, r := range plan.reusedConcepts {
			if err := w.Knowledge.AppendConceptContent(ctx, job.UserID, r.entityID, r.addition); err != nil {
				return fmt.Errorf("append concept %s: %w", r.entityID, err)
			}
			if err := tx.AppendNodeContent(r.entityID, job.UserID, r.addition); err != nil {
				return fmt.Errorf("graph append %s: %w", r.entityID, err)
			}
		}
		// Growth events are never deduplicated.
		for _, ge := range plan.growthEvents {
			if err := w.Knowledge.InsertGrowthEvent(ctx, ge); err != nil {
				return fmt.Errorf("insert growth event %q: %w", ge.Title, err)
			}
			if err := tx.UpsertNode(domain.GraphLabel(ge.Type()), domain.GraphProperties(ge, domain.SourceIngestion)); err != nil {
				return fmt.Errorf("graph growth event %q: %w", ge.Title, err)
			}
		}

		for _, rel := range payload.NewRelationships {
			sourceID, ok := w.resolveEndpoint(ctx, tx, job, plan, rel.Source)
			if !ok {
				continue
			}
			targetID, ok := w.resolveEndpoint(ctx, tx, job, plan, rel.Target)
			if !ok {
				continue
			}
			label := domain.NormalizeRelationshipType(rel.Type)
			if !domain.CoherentRelationship(label, rel.Description) {
				log.Warn().
					Str("label", label).
					Str("description", rel.Description).
					Msg("relationship description does not match label, creating anyway")
			}
			err := tx.CreateRelationship(domain.Relationship{
				RelationshipID: w.newID(),
				Type:           label,
				SourceEntityID: sourceID,
				TargetEntityID: targetID,
				UserID:         job.UserID,
				Strength:       rel.Strength,
				Description:    rel.Description,
				SourceAgent:    domain.SourceIngestion,
				CreatedAt:      now,
			})
			if err != nil {
				return fmt.Errorf("create relationship %s: %w", label, err)
			}
			plan.relationshipCount++
		}
		return nil
	})
}

// resolveEndpoint maps a relationship endpoint to an entity id. UUIDs pass
// through, mapped names resolve, growth-dimension keys are skipped, and
// anything else becomes a fallback auto_generated concept.
func (w *IngestionWorker) resolveEndpoint(ctx context.Context, tx persistence.GraphTx, job domain.IngestionJob, plan *ingestionPlan, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if id, ok := plan.entityMappings[ref]; ok {
		return id, true
	}
	if _, err := uuid.Parse(ref); err == nil {
		return ref, true
	}
	if domain.GrowthDimensions[ref] {
		observability.LoggerWithTrace(ctx).Debug().Str("ref", ref).Msg("skipping relationship to growth dimension")
		return "", false
	}

	now := w.now()
	fallback := domain.Concept{
		ID:          w.newID(),
		UserID:      job.UserID,
		Title:       ref,
		ConceptType: "auto_generated",
		Content:     "",
		Status:      domain.ConceptActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.Knowledge.InsertConcept(ctx, fallback); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("ref", ref).Msg("fallback concept insert failed, dropping relationship")
		return "", false
	}
	if err := tx.UpsertNode(domain.GraphLabel(fallback.Type()), domain.GraphProperties(fallback, domain.SourceIngestion)); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("ref", ref).Msg("fallback concept graph node failed, dropping relationship")
		return "", false
	}
	plan.entityMappings[ref] = fallback.ID
	plan.newConcepts = append(plan.newConcepts, fallback)
	return fallback.ID, true
}

// fanOut publishes embedding jobs for every new textual entity plus one
// new_entities_created event to the card and graph queues. Broker failures
// are logged; they never roll back the committed batch.
func (w *IngestionWorker) fanOut(ctx context.Context, job domain.IngestionJob, plan *ingestionPlan) {
	log := observability.LoggerWithTrace(ctx)

	var textual []domain.TextualEntity
	refs := make([]domain.EntityRef, 0, len(plan.newMemoryUnits)+len(plan.newConcepts)+len(plan.growthEvents))
	for _, mu := range plan.newMemoryUnits {
		textual = append(textual, mu)
		refs = append(refs, domain.EntityRef{ID: mu.ID, Type: mu.Type()})
	}
	for _, c := range plan.newConcepts {
		textual = append(textual, c)
		refs = append(refs, domain.EntityRef{ID: c.ID, Type: c.Type()})
	}
	for _, ge := range plan.growthEvents {
		textual = append(textual, ge)
		refs = append(refs, domain.EntityRef{ID: ge.ID, Type: ge.Type()})
	}
	if len(refs) == 0 {
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
	event := domain.EntityEvent{
		Type:      domain.EventNewEntitiesCreated,
		UserID:    job.UserID,
		Source:    domain.SourceIngestion,
		Timestamp: w.now(),
		Entities:  refs,
	}
	g.Go(func() error {
		if err := w.Publisher.PublishCardEvent(gctx, event); err != nil {
			log.Error().Err(err).Msg("card event enqueue failed")
		}
		return nil
	})
	g.Go(func() error {
		if err := w.Publisher.PublishGraphEvent(gctx, event); err != nil {
			log.Error().Err(err).Msg("graph event enqueue failed")
		}
		return nil
	})
	_ = g.Wait()
}

func resolveIDs(refs []string, mappings map[string]string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if id, ok := mappings[r]; ok {
			out = append(out, id)
			continue
		}
		out = append(out, r)
	}
	return out
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
