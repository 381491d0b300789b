package persistence

import (
	"context"
	"errors"
	"time"

	"mnemo/internal/domain"
)

// ErrNotFound is returned when a row does not exist for the given user.
var ErrNotFound = errors.New("not found")

// ConversationStore reads and finalizes conversations. The frontend creates
// rows and appends messages; the ingestion worker owns every mutation after
// the conversation ends.
type ConversationStore interface {
	Get(ctx context.Context, userID, conversationID string) (domain.Conversation, error)
	// Transcript returns the full message log as one speaker-tagged string.
	Transcript(ctx context.Context, userID, conversationID string) (string, error)
	// Finalize writes title, summary, importance, status, greeting, and
	// forward-looking context in one statement.
	Finalize(ctx context.Context, conv domain.Conversation) error
	// MarkFailed transitions the conversation to failed, surfacing the error
	// message in its content field.
	MarkFailed(ctx context.Context, userID, conversationID, errMsg string) error
	// SummariesBetween returns processed conversations in [from, to).
	SummariesBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.Conversation, error)
}

type UserStore interface {
	Get(ctx context.Context, userID string) (domain.User, error)
	UpdateMemoryProfile(ctx context.Context, userID, profile string) error
	UpdateNextConversationContext(ctx context.Context, userID string, pkg map[string]any) error
}

// KnowledgeStore holds the relational rows for memory units, concepts, and
// growth events.
type KnowledgeStore interface {
	InsertMemoryUnit(ctx context.Context, mu domain.MemoryUnit) error
	AppendMemoryUnitContent(ctx context.Context, userID, id, addition string) error
	MemoryUnitsBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.MemoryUnit, error)

	InsertConcept(ctx context.Context, c domain.Concept) error
	GetConcept(ctx context.Context, userID, id string) (domain.Concept, error)
	ActiveConcepts(ctx context.Context, userID string) ([]domain.Concept, error)
	ConceptsUpdatedSince(ctx context.Context, userID string, since time.Time) ([]domain.Concept, error)
	AppendConceptContent(ctx context.Context, userID, id, addition string) error
	// RenameConcept updates title and description of a merge primary.
	RenameConcept(ctx context.Context, userID, id, title, description string) error
	UpdateConceptDescription(ctx context.Context, userID, id, description string) error
	MarkConceptMerged(ctx context.Context, userID, id, mergedInto string) error
	MarkConceptArchived(ctx context.Context, userID, id string) error
	SetConceptCommunity(ctx context.Context, userID, conceptID, communityID string) error

	InsertGrowthEvent(ctx context.Context, ge domain.GrowthEvent) error
	RecentGrowthEvents(ctx context.Context, userID string, limit int) ([]domain.GrowthEvent, error)
}

// InsightStore holds the cycle-produced content entities.
type InsightStore interface {
	InsertArtifact(ctx context.Context, a domain.DerivedArtifact) error
	InsertPrompt(ctx context.Context, p domain.ProactivePrompt) error
	InsertCommunity(ctx context.Context, c domain.Community) error
}

type CycleStore interface {
	Create(ctx context.Context, c domain.UserCycle) error
	// Close writes the terminal status and counters. A cycle is closed
	// exactly once.
	Close(ctx context.Context, c domain.UserCycle) error
	LatestCompleted(ctx context.Context, userID string) (domain.UserCycle, error)
}

type CardStore interface {
	// Insert creates the card unless one already exists for the same
	// (source_entity_id, source_entity_type, user_id). Returns true when a
	// row was created.
	Insert(ctx context.Context, card domain.Card) (bool, error)
	Exists(ctx context.Context, userID, sourceEntityID string, t domain.EntityType) (bool, error)
}

type ProjectionStore interface {
	// Upsert replaces the user's singleton projection.
	Upsert(ctx context.Context, p domain.GraphProjection) error
	Get(ctx context.Context, userID string) (domain.GraphProjection, error)
}

// GraphNode is a node materialized out of the graph store.
type GraphNode struct {
	EntityID   string
	Labels     []string
	Properties map[string]any
}

// GraphEdge is an edge materialized out of the graph store.
type GraphEdge struct {
	Source string
	Target string
	Type   string
}

// GraphTx is the write surface available inside one graph transaction.
type GraphTx interface {
	UpsertNode(label string, properties map[string]any) error
	AppendNodeContent(entityID, userID, addition string) error
	CreateRelationship(rel domain.Relationship) error
}

// GraphStore is the Neo4j-backed authoritative ontology representation.
type GraphStore interface {
	// Write runs fn inside a single write transaction; a returned error
	// rolls everything back.
	Write(ctx context.Context, fn func(tx GraphTx) error) error

	// MergeConcepts rewrites every edge incident to the secondaries onto the
	// primary (marking redirected_from/redirected_at), updates the primary's
	// properties, then detach-deletes the secondaries.
	MergeConcepts(ctx context.Context, userID, primaryID string, primaryProps map[string]any, secondaryIDs []string) error
	ArchiveConcept(ctx context.Context, userID, conceptID, rationale string) error
	CreateCommunity(ctx context.Context, community domain.Community) error

	// Subgraph returns all non-merged, non-archived nodes of the user and
	// the edges between them.
	Subgraph(ctx context.Context, userID string) ([]GraphNode, []GraphEdge, error)
	Close(ctx context.Context) error
}

// VectorRecord is one point in the vector store.
type VectorRecord struct {
	EntityID   string
	UserID     string
	EntityType domain.EntityType
	Vector     []float32
	Status     string
}

// VectorResult is one similarity hit.
type VectorResult struct {
	EntityID string
	Score    float64
	Metadata map[string]string
}

type VectorStore interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	// SetStatus mirrors the relational concept status onto the point payload.
	SetStatus(ctx context.Context, userID, entityID, status string) error
	// Fetch returns the stored vectors for the given entity ids; missing ids
	// are absent from the result.
	Fetch(ctx context.Context, userID string, entityIDs []string) (map[string][]float32, error)
	SimilaritySearch(ctx context.Context, userID string, vector []float32, entityType domain.EntityType, k int) ([]VectorResult, error)
	Close(ctx context.Context) error
}
