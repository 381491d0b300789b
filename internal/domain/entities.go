package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the kind of a knowledge entity. The set is closed;
// code that branches on entity kind should switch on the concrete struct
// types below rather than on these strings.
type EntityType string

const (
	TypeMemoryUnit      EntityType = "MemoryUnit"
	TypeConcept         EntityType = "Concept"
	TypeGrowthEvent     EntityType = "GrowthEvent"
	TypeDerivedArtifact EntityType = "DerivedArtifact"
	TypeProactivePrompt EntityType = "ProactivePrompt"
	TypeCommunity       EntityType = "Community"
)

// ConversationStatus is the lifecycle state of a conversation row.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationProcessed ConversationStatus = "processed"
	ConversationFailed    ConversationStatus = "failed"
)

// ConceptStatus transitions are one-way: active -> merged, active -> archived.
type ConceptStatus string

const (
	ConceptActive   ConceptStatus = "active"
	ConceptMerged   ConceptStatus = "merged"
	ConceptArchived ConceptStatus = "archived"
)

// CycleStatus is the lifecycle state of an insight cycle.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
)

// Entity is anything addressable by an entity_id that lives in the
// relational, graph, and vector stores under one user.
type Entity interface {
	EntityID() string
	OwnerID() string
	Type() EntityType
}

// TextualEntity is an entity with text worth embedding. TextContent returns
// the exact string handed to the embedding model.
type TextualEntity interface {
	Entity
	TextContent() string
}

type User struct {
	UserID                   string
	Name                     string
	MemoryProfile            string
	NextConversationContext  map[string]any
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

type Conversation struct {
	ConversationID        string
	UserID                string
	Title                 string
	Status                ConversationStatus
	ImportanceScore       float64
	Content               string
	ProactiveGreeting     string
	ForwardLookingContext map[string]any
	StartTime             time.Time
	UpdatedAt             time.Time
}

type MemoryUnit struct {
	ID                   string
	UserID               string
	Title                string
	Content              string
	ImportanceScore      float64
	SentimentScore       float64
	SourceConversationID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (m MemoryUnit) EntityID() string { return m.ID }
func (m MemoryUnit) OwnerID() string  { return m.UserID }
func (m MemoryUnit) Type() EntityType { return TypeMemoryUnit }
func (m MemoryUnit) TextContent() string {
	return m.Title + "\n" + m.Content
}

type Concept struct {
	ID                  string
	UserID              string
	Title               string
	ConceptType         string
	Content             string
	ImportanceScore     float64 // salience in [0,1]
	Status              ConceptStatus
	MergedIntoConceptID string
	CommunityID         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (c Concept) EntityID() string     { return c.ID }
func (c Concept) OwnerID() string      { return c.UserID }
func (c Concept) Type() EntityType     { return TypeConcept }
func (c Concept) TextContent() string  { return c.Title }

type GrowthEvent struct {
	ID                  string
	UserID              string
	Title               string
	Dimension           string // e.g. act_self, know_world, act_world, know_self
	DeltaValue          float64
	Content             string // rationale
	SourceMemoryUnitIDs []string
	SourceConceptIDs    []string
	CreatedAt           time.Time
}

func (g GrowthEvent) EntityID() string { return g.ID }
func (g GrowthEvent) OwnerID() string  { return g.UserID }
func (g GrowthEvent) Type() EntityType { return TypeGrowthEvent }
func (g GrowthEvent) TextContent() string {
	return fmt.Sprintf("%s Growth Event: %s", g.Dimension, g.Content)
}

type DerivedArtifact struct {
	ID                  string
	UserID              string
	CycleID             string
	ArtifactType        string
	Title               string
	ContentNarrative    string
	ContentData         map[string]any
	SourceConceptIDs    []string
	SourceMemoryUnitIDs []string
	CreatedAt           time.Time
}

func (a DerivedArtifact) EntityID() string { return a.ID }
func (a DerivedArtifact) OwnerID() string  { return a.UserID }
func (a DerivedArtifact) Type() EntityType { return TypeDerivedArtifact }
func (a DerivedArtifact) TextContent() string {
	return a.Title + "\n" + a.ContentNarrative
}

type PromptMetadata struct {
	PromptType       string
	TimingSuggestion string
	PriorityLevel    int
}

type ProactivePrompt struct {
	ID          string
	UserID      string
	CycleID     string
	PromptText  string
	SourceAgent string
	Metadata    PromptMetadata
	CreatedAt   time.Time
}

func (p ProactivePrompt) EntityID() string    { return p.ID }
func (p ProactivePrompt) OwnerID() string     { return p.UserID }
func (p ProactivePrompt) Type() EntityType    { return TypeProactivePrompt }
func (p ProactivePrompt) TextContent() string { return p.PromptText }

type Community struct {
	ID               string
	UserID           string
	Title            string // theme
	Content          string // description
	MemberConceptIDs []string
	CreatedAt        time.Time
}

func (c Community) EntityID() string { return c.ID }
func (c Community) OwnerID() string  { return c.UserID }
func (c Community) Type() EntityType { return TypeCommunity }
func (c Community) TextContent() string {
	return c.Title + "\n" + c.Content
}

type Card struct {
	CardID           string
	UserID           string
	SourceEntityID   string
	SourceEntityType EntityType
	CardType         string
	DisplayData      map[string]any
	CreatedAt        time.Time
}

type Relationship struct {
	RelationshipID string
	Type           string
	SourceEntityID string
	TargetEntityID string
	UserID         string
	Strength       float64
	Description    string
	SourceAgent    string
	// StrategicValue is only set on STRATEGIC_RELATIONSHIP edges.
	StrategicValue string
	CreatedAt      time.Time
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type ProjectionNode struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Position   Position       `json:"position"`
	Properties map[string]any `json:"properties"`
}

type ProjectionEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type ProjectionMetadata struct {
	Algorithm   string    `json:"algorithm"`
	NodeCount   int       `json:"node_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GraphProjection is the per-user singleton 3D layout of the graph.
type GraphProjection struct {
	UserID   string             `json:"user_id"`
	Nodes    []ProjectionNode   `json:"nodes"`
	Edges    []ProjectionEdge   `json:"edges"`
	Metadata ProjectionMetadata `json:"metadata"`
}

type UserCycle struct {
	CycleID              string
	UserID               string
	Status               CycleStatus
	CycleStartDate       time.Time
	CycleEndDate         time.Time
	ArtifactsCreated     int
	PromptsCreated       int
	ConceptsMerged       int
	RelationshipsCreated int
	ProcessingDurationMS int64
	ErrorCount           int
	DashboardReady       bool
	CompletedAt          time.Time
}

// GraphProperties returns the standardized node property map written to the
// graph store for an entity. The switch is exhaustive over the entity kinds.
func GraphProperties(e Entity, source string) map[string]any {
	props := map[string]any{
		"entity_id":   e.EntityID(),
		"user_id":     e.OwnerID(),
		"entity_type": string(e.Type()),
		"source":      source,
	}
	switch v := e.(type) {
	case MemoryUnit:
		props["title"] = v.Title
		props["content"] = v.Content
		props["importance_score"] = v.ImportanceScore
		props["created_at"] = v.CreatedAt.UTC().Format(time.RFC3339Nano)
	case Concept:
		props["title"] = v.Title
		props["content"] = v.Content
		props["concept_type"] = v.ConceptType
		props["importance_score"] = v.ImportanceScore
		props["status"] = string(v.Status)
		props["created_at"] = v.CreatedAt.UTC().Format(time.RFC3339Nano)
	case GrowthEvent:
		props["title"] = v.Title
		props["content"] = v.Content
		props["dimension"] = v.Dimension
		props["delta_value"] = v.DeltaValue
		props["created_at"] = v.CreatedAt.UTC().Format(time.RFC3339Nano)
	case DerivedArtifact:
		props["title"] = v.Title
		props["content"] = v.ContentNarrative
		props["artifact_type"] = v.ArtifactType
		props["cycle_id"] = v.CycleID
		props["created_at"] = v.CreatedAt.UTC().Format(time.RFC3339Nano)
	case ProactivePrompt:
		props["title"] = v.PromptText
		props["content"] = v.PromptText
		props["cycle_id"] = v.CycleID
		props["created_at"] = v.CreatedAt.UTC().Format(time.RFC3339Nano)
	case Community:
		props["title"] = v.Title
		props["content"] = v.Content
		props["created_at"] = v.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return props
}

// GraphLabel maps an entity type to its graph node label.
func GraphLabel(t EntityType) string { return string(t) }

// GrowthDimensions are the reserved growth-dimension keys. A relationship
// endpoint naming one of these is skipped rather than materialized.
var GrowthDimensions = map[string]bool{
	"act_self":   true,
	"act_world":  true,
	"know_self":  true,
	"know_world": true,
}
