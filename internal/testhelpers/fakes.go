// Package testhelpers provides in-memory fakes for the store and capability
// interfaces so worker tests run without live services.
package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
	"mnemo/internal/similarity"
	"mnemo/internal/synthesis"
)

// FakeConversationStore keeps conversations and transcripts in memory.
type FakeConversationStore struct {
	mu            sync.Mutex
	Conversations map[string]domain.Conversation // key: userID|conversationID
	Transcripts   map[string]string
	FailedWith    map[string]string
}

func NewFakeConversationStore() *FakeConversationStore {
	return &FakeConversationStore{
		Conversations: map[string]domain.Conversation{},
		Transcripts:   map[string]string{},
		FailedWith:    map[string]string{},
	}
}

func convKey(userID, conversationID string) string { return userID + "|" + conversationID }

func (s *FakeConversationStore) Put(c domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Conversations[convKey(c.UserID, c.ConversationID)] = c
}

func (s *FakeConversationStore) Get(_ context.Context, userID, conversationID string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Conversations[convKey(userID, conversationID)]
	if !ok {
		return domain.Conversation{}, persistence.ErrNotFound
	}
	return c, nil
}

func (s *FakeConversationStore) Transcript(_ context.Context, userID, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Transcripts[convKey(userID, conversationID)], nil
}

func (s *FakeConversationStore) Finalize(_ context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey(conv.UserID, conv.ConversationID)
	if _, ok := s.Conversations[key]; !ok {
		return persistence.ErrNotFound
	}
	s.Conversations[key] = conv
	return nil
}

func (s *FakeConversationStore) MarkFailed(_ context.Context, userID, conversationID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey(userID, conversationID)
	c := s.Conversations[key]
	c.Status = domain.ConversationFailed
	c.Content = errMsg
	s.Conversations[key] = c
	s.FailedWith[key] = errMsg
	return nil
}

func (s *FakeConversationStore) SummariesBetween(_ context.Context, userID string, from, to time.Time) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversation
	for _, c := range s.Conversations {
		if c.UserID == userID && c.Status == domain.ConversationProcessed {
			out = append(out, c)
		}
	}
	return out, nil
}

// FakeUserStore keeps users in memory.
type FakeUserStore struct {
	mu       sync.Mutex
	Users    map[string]domain.User
	Profiles map[string]string
	Packages map[string]map[string]any
}

func NewFakeUserStore() *FakeUserStore {
	return &FakeUserStore{
		Users:    map[string]domain.User{},
		Profiles: map[string]string{},
		Packages: map[string]map[string]any{},
	}
}

func (s *FakeUserStore) Get(_ context.Context, userID string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[userID]
	if !ok {
		return domain.User{}, persistence.ErrNotFound
	}
	return u, nil
}

func (s *FakeUserStore) UpdateMemoryProfile(_ context.Context, userID, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profiles[userID] = profile
	return nil
}

func (s *FakeUserStore) UpdateNextConversationContext(_ context.Context, userID string, pkg map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Packages[userID] = pkg
	return nil
}

// FakeKnowledgeStore keeps memory units, concepts, and growth events.
type FakeKnowledgeStore struct {
	mu           sync.Mutex
	MemoryUnits  map[string]domain.MemoryUnit
	Concepts     map[string]domain.Concept
	GrowthEvents map[string]domain.GrowthEvent
	Appends      map[string][]string
}

func NewFakeKnowledgeStore() *FakeKnowledgeStore {
	return &FakeKnowledgeStore{
		MemoryUnits:  map[string]domain.MemoryUnit{},
		Concepts:     map[string]domain.Concept{},
		GrowthEvents: map[string]domain.GrowthEvent{},
		Appends:      map[string][]string{},
	}
}

func (s *FakeKnowledgeStore) InsertMemoryUnit(_ context.Context, mu domain.MemoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MemoryUnits[mu.ID] = mu
	return nil
}

func (s *FakeKnowledgeStore) AppendMemoryUnitContent(_ context.Context, userID, id, addition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.MemoryUnits[id]
	if ok && mu.UserID != userID {
		return persistence.ErrNotFound
	}
	if ok {
		mu.Content += "\n" + addition
		s.MemoryUnits[id] = mu
	}
	s.Appends[id] = append(s.Appends[id], addition)
	return nil
}

func (s *FakeKnowledgeStore) MemoryUnitsBetween(_ context.Context, userID string, from, to time.Time) ([]domain.MemoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MemoryUnit
	for _, mu := range s.MemoryUnits {
		if mu.UserID == userID {
			out = append(out, mu)
		}
	}
	return out, nil
}

func (s *FakeKnowledgeStore) InsertConcept(_ context.Context, c domain.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Concepts[c.ID] = c
	return nil
}

func (s *FakeKnowledgeStore) GetConcept(_ context.Context, userID, id string) (domain.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[id]
	if !ok || c.UserID != userID {
		return domain.Concept{}, persistence.ErrNotFound
	}
	return c, nil
}

func (s *FakeKnowledgeStore) ActiveConcepts(_ context.Context, userID string) ([]domain.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Concept
	for _, c := range s.Concepts {
		if c.UserID == userID && c.Status == domain.ConceptActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FakeKnowledgeStore) ConceptsUpdatedSince(_ context.Context, userID string, since time.Time) ([]domain.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Concept
	for _, c := range s.Concepts {
		if c.UserID == userID && c.Status == domain.ConceptActive && !c.UpdatedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FakeKnowledgeStore) AppendConceptContent(_ context.Context, userID, id, addition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[id]
	if ok && c.UserID != userID {
		return persistence.ErrNotFound
	}
	if ok {
		c.Content += "\n" + addition
		s.Concepts[id] = c
	}
	s.Appends[id] = append(s.Appends[id], addition)
	return nil
}

func (s *FakeKnowledgeStore) RenameConcept(_ context.Context, userID, id, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[id]
	if !ok || c.UserID != userID || c.Status != domain.ConceptActive {
		return persistence.ErrNotFound
	}
	if title != "" {
		c.Title = title
	}
	if description != "" {
		c.Content = description
	}
	s.Concepts[id] = c
	return nil
}

func (s *FakeKnowledgeStore) UpdateConceptDescription(_ context.Context, userID, id, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[id]
	if !ok || c.UserID != userID || c.Status != domain.ConceptActive {
		return persistence.ErrNotFound
	}
	c.Content = description
	s.Concepts[id] = c
	return nil
}

func (s *FakeKnowledgeStore) MarkConceptMerged(_ context.Context, userID, id, mergedInto string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[id]
	if !ok || c.UserID != userID || c.Status != domain.ConceptActive {
		return persistence.ErrNotFound
	}
	c.Status = domain.ConceptMerged
	c.MergedIntoConceptID = mergedInto
	s.Concepts[id] = c
	return nil
}

func (s *FakeKnowledgeStore) MarkConceptArchived(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[id]
	if !ok || c.UserID != userID || c.Status != domain.ConceptActive {
		return persistence.ErrNotFound
	}
	c.Status = domain.ConceptArchived
	s.Concepts[id] = c
	return nil
}

func (s *FakeKnowledgeStore) SetConceptCommunity(_ context.Context, userID, conceptID, communityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Concepts[conceptID]
	if !ok || c.UserID != userID || c.Status != domain.ConceptActive {
		return persistence.ErrNotFound
	}
	c.CommunityID = communityID
	s.Concepts[conceptID] = c
	return nil
}

func (s *FakeKnowledgeStore) InsertGrowthEvent(_ context.Context, ge domain.GrowthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GrowthEvents[ge.ID] = ge
	return nil
}

func (s *FakeKnowledgeStore) RecentGrowthEvents(_ context.Context, userID string, limit int) ([]domain.GrowthEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GrowthEvent
	for _, ge := range s.GrowthEvents {
		if ge.UserID == userID {
			out = append(out, ge)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FakeInsightStore keeps artifacts, prompts, and communities.
type FakeInsightStore struct {
	mu          sync.Mutex
	Artifacts   []domain.DerivedArtifact
	Prompts     []domain.ProactivePrompt
	Communities []domain.Community
	FailInserts bool
}

func NewFakeInsightStore() *FakeInsightStore { return &FakeInsightStore{} }

func (s *FakeInsightStore) InsertArtifact(_ context.Context, a domain.DerivedArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return fmt.Errorf("insight store unavailable")
	}
	s.Artifacts = append(s.Artifacts, a)
	return nil
}

func (s *FakeInsightStore) InsertPrompt(_ context.Context, p domain.ProactivePrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return fmt.Errorf("insight store unavailable")
	}
	s.Prompts = append(s.Prompts, p)
	return nil
}

func (s *FakeInsightStore) InsertCommunity(_ context.Context, c domain.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return fmt.Errorf("insight store unavailable")
	}
	s.Communities = append(s.Communities, c)
	return nil
}

// FakeCycleStore keeps user cycles.
type FakeCycleStore struct {
	mu     sync.Mutex
	Cycles map[string]domain.UserCycle
}

func NewFakeCycleStore() *FakeCycleStore {
	return &FakeCycleStore{Cycles: map[string]domain.UserCycle{}}
}

func (s *FakeCycleStore) Create(_ context.Context, c domain.UserCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cycles[c.CycleID] = c
	return nil
}

func (s *FakeCycleStore) Close(_ context.Context, c domain.UserCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.Cycles[c.CycleID]
	if !ok || existing.Status != domain.CycleRunning {
		return persistence.ErrNotFound
	}
	c.CompletedAt = time.Now().UTC()
	s.Cycles[c.CycleID] = c
	return nil
}

func (s *FakeCycleStore) LatestCompleted(_ context.Context, userID string) (domain.UserCycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Cycles {
		if c.UserID == userID && c.Status == domain.CycleCompleted {
			return c, nil
		}
	}
	return domain.UserCycle{}, persistence.ErrNotFound
}

// FakeCardStore enforces the card uniqueness invariant in memory.
type FakeCardStore struct {
	mu      sync.Mutex
	Cards   map[string]domain.Card // key: userID|sourceID|sourceType
	Inserts int
}

func NewFakeCardStore() *FakeCardStore {
	return &FakeCardStore{Cards: map[string]domain.Card{}}
}

func cardKey(userID, sourceID string, t domain.EntityType) string {
	return userID + "|" + sourceID + "|" + string(t)
}

func (s *FakeCardStore) Insert(_ context.Context, card domain.Card) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inserts++
	key := cardKey(card.UserID, card.SourceEntityID, card.SourceEntityType)
	if _, ok := s.Cards[key]; ok {
		return false, nil
	}
	s.Cards[key] = card
	return true, nil
}

func (s *FakeCardStore) Exists(_ context.Context, userID, sourceEntityID string, t domain.EntityType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Cards[cardKey(userID, sourceEntityID, t)]
	return ok, nil
}

// FakeProjectionStore keeps the singleton projection per user.
type FakeProjectionStore struct {
	mu          sync.Mutex
	Projections map[string]domain.GraphProjection
}

func NewFakeProjectionStore() *FakeProjectionStore {
	return &FakeProjectionStore{Projections: map[string]domain.GraphProjection{}}
}

func (s *FakeProjectionStore) Upsert(_ context.Context, p domain.GraphProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Projections[p.UserID] = p
	return nil
}

func (s *FakeProjectionStore) Get(_ context.Context, userID string) (domain.GraphProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Projections[userID]
	if !ok {
		return domain.GraphProjection{}, persistence.ErrNotFound
	}
	return p, nil
}

// FakeGraphStore keeps nodes and edges in memory and mimics the merge,
// archive, and community semantics of the Neo4j store.
type FakeGraphStore struct {
	mu    sync.Mutex
	Nodes map[string]persistence.GraphNode
	Edges []FakeEdge
}

type FakeEdge struct {
	ID             string
	Type           string
	Source         string
	Target         string
	UserID         string
	Properties     map[string]any
	RedirectedFrom string
}

func NewFakeGraphStore() *FakeGraphStore {
	return &FakeGraphStore{Nodes: map[string]persistence.GraphNode{}}
}

type fakeGraphTx struct {
	store *FakeGraphStore
}

func (t *fakeGraphTx) UpsertNode(label string, properties map[string]any) error {
	entityID, _ := properties["entity_id"].(string)
	if entityID == "" {
		return fmt.Errorf("missing entity_id")
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n, ok := t.store.Nodes[entityID]
	if !ok {
		n = persistence.GraphNode{EntityID: entityID, Labels: []string{label}, Properties: map[string]any{}}
	}
	for k, v := range properties {
		n.Properties[k] = v
	}
	t.store.Nodes[entityID] = n
	return nil
}

func (t *fakeGraphTx) AppendNodeContent(entityID, userID, addition string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n, ok := t.store.Nodes[entityID]
	if !ok {
		return nil
	}
	content, _ := n.Properties["content"].(string)
	n.Properties["content"] = content + "\n" + addition
	t.store.Nodes[entityID] = n
	return nil
}

func (t *fakeGraphTx) CreateRelationship(rel domain.Relationship) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.Edges = append(t.store.Edges, FakeEdge{
		ID:         rel.RelationshipID,
		Type:       rel.Type,
		Source:     rel.SourceEntityID,
		Target:     rel.TargetEntityID,
		UserID:     rel.UserID,
		Properties: map[string]any{"description": rel.Description, "strength": rel.Strength},
	})
	return nil
}

func (s *FakeGraphStore) Write(_ context.Context, fn func(tx persistence.GraphTx) error) error {
	return fn(&fakeGraphTx{store: s})
}

func (s *FakeGraphStore) MergeConcepts(_ context.Context, userID, primaryID string, primaryProps map[string]any, secondaryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.Nodes[primaryID]; ok {
		for k, v := range primaryProps {
			p.Properties[k] = v
		}
		s.Nodes[primaryID] = p
	}
	secondary := map[string]bool{}
	for _, id := range secondaryIDs {
		secondary[id] = true
	}
	var kept []FakeEdge
	for _, e := range s.Edges {
		switch {
		case secondary[e.Source] && e.Target == primaryID, secondary[e.Target] && e.Source == primaryID:
			// Edge between secondary and primary collapses.
		case secondary[e.Source]:
			e.RedirectedFrom = e.Source
			e.Source = primaryID
			kept = append(kept, e)
		case secondary[e.Target]:
			e.RedirectedFrom = e.Target
			e.Target = primaryID
			kept = append(kept, e)
		default:
			kept = append(kept, e)
		}
	}
	s.Edges = kept
	for id := range secondary {
		delete(s.Nodes, id)
	}
	return nil
}

func (s *FakeGraphStore) ArchiveConcept(_ context.Context, userID, conceptID, rationale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.Nodes[conceptID]
	if !ok {
		return nil
	}
	n.Properties["status"] = "archived"
	n.Properties["archive_rationale"] = rationale
	s.Nodes[conceptID] = n
	return nil
}

func (s *FakeGraphStore) CreateCommunity(_ context.Context, community domain.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Nodes[community.ID] = persistence.GraphNode{
		EntityID: community.ID,
		Labels:   []string{"Community"},
		Properties: map[string]any{
			"entity_id":   community.ID,
			"user_id":     community.UserID,
			"entity_type": "Community",
			"title":       community.Title,
		},
	}
	for _, member := range community.MemberConceptIDs {
		s.Edges = append(s.Edges, FakeEdge{
			Type:   "MEMBER_OF",
			Source: member,
			Target: community.ID,
			UserID: community.UserID,
		})
	}
	return nil
}

func (s *FakeGraphStore) Subgraph(_ context.Context, userID string) ([]persistence.GraphNode, []persistence.GraphEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []persistence.GraphNode
	alive := map[string]bool{}
	for _, n := range s.Nodes {
		if owner, _ := n.Properties["user_id"].(string); owner != userID {
			continue
		}
		if status, _ := n.Properties["status"].(string); status == "merged" || status == "archived" {
			continue
		}
		nodes = append(nodes, n)
		alive[n.EntityID] = true
	}
	var edges []persistence.GraphEdge
	for _, e := range s.Edges {
		if alive[e.Source] && alive[e.Target] {
			edges = append(edges, persistence.GraphEdge{Source: e.Source, Target: e.Target, Type: e.Type})
		}
	}
	return nodes, edges, nil
}

func (s *FakeGraphStore) Close(context.Context) error { return nil }

// EdgesTouching returns every edge incident to the given entity.
func (s *FakeGraphStore) EdgesTouching(entityID string) []FakeEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FakeEdge
	for _, e := range s.Edges {
		if e.Source == entityID || e.Target == entityID {
			out = append(out, e)
		}
	}
	return out
}

// FakeVectorStore keeps vectors and statuses in memory.
type FakeVectorStore struct {
	mu      sync.Mutex
	Records map[string]persistence.VectorRecord
	// NextResults is returned by the next SimilaritySearch call.
	NextResults []persistence.VectorResult
	LastQuery   []float32
}

func NewFakeVectorStore() *FakeVectorStore {
	return &FakeVectorStore{Records: map[string]persistence.VectorRecord{}}
}

func (s *FakeVectorStore) Upsert(_ context.Context, rec persistence.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records[rec.EntityID] = rec
	return nil
}

func (s *FakeVectorStore) SetStatus(_ context.Context, userID, entityID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[entityID]
	if !ok {
		rec = persistence.VectorRecord{EntityID: entityID, UserID: userID}
	}
	if rec.UserID != userID {
		return fmt.Errorf("cross-user vector status write")
	}
	rec.Status = status
	s.Records[entityID] = rec
	return nil
}

func (s *FakeVectorStore) Fetch(_ context.Context, userID string, entityIDs []string) (map[string][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]float32{}
	for _, id := range entityIDs {
		if rec, ok := s.Records[id]; ok && rec.UserID == userID && rec.Vector != nil {
			out[id] = rec.Vector
		}
	}
	return out, nil
}

func (s *FakeVectorStore) SimilaritySearch(_ context.Context, userID string, vector []float32, entityType domain.EntityType, k int) ([]persistence.VectorResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastQuery = vector
	return s.NextResults, nil
}

func (s *FakeVectorStore) Close(context.Context) error { return nil }

// FakePublisher records everything the workers fan out.
type FakePublisher struct {
	mu            sync.Mutex
	EmbeddingJobs []domain.EmbeddingJob
	CardEvents    []domain.EntityEvent
	GraphEvents   []domain.EntityEvent
	Fail          bool
}

func NewFakePublisher() *FakePublisher { return &FakePublisher{} }

func (p *FakePublisher) PublishEmbeddingJob(_ context.Context, job domain.EmbeddingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return fmt.Errorf("broker unreachable")
	}
	p.EmbeddingJobs = append(p.EmbeddingJobs, job)
	return nil
}

func (p *FakePublisher) PublishCardEvent(_ context.Context, ev domain.EntityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return fmt.Errorf("broker unreachable")
	}
	p.CardEvents = append(p.CardEvents, ev)
	return nil
}

func (p *FakePublisher) PublishGraphEvent(_ context.Context, ev domain.EntityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return fmt.Errorf("broker unreachable")
	}
	p.GraphEvents = append(p.GraphEvents, ev)
	return nil
}

// EmbeddedEntityIDs returns the entity ids of all published embedding jobs.
func (p *FakePublisher) EmbeddedEntityIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, j := range p.EmbeddingJobs {
		out = append(out, j.EntityID)
	}
	return out
}

// FakeSimilarity returns canned matches per candidate name.
type FakeSimilarity struct {
	Matches map[string]similarity.Match
}

func NewFakeSimilarity() *FakeSimilarity {
	return &FakeSimilarity{Matches: map[string]similarity.Match{}}
}

func (s *FakeSimilarity) BestMatches(_ context.Context, userID string, entityType domain.EntityType, candidates []string) ([]similarity.Match, error) {
	out := make([]similarity.Match, 0, len(candidates))
	for _, name := range candidates {
		if m, ok := s.Matches[name]; ok {
			m.CandidateName = name
			out = append(out, m)
			continue
		}
		out = append(out, similarity.Match{CandidateName: name})
	}
	return out, nil
}

// FakeHolistic returns a canned result or error.
type FakeHolistic struct {
	Result synthesis.HolisticResult
	Err    error
	Calls  int
}

func (f *FakeHolistic) Synthesize(_ context.Context, _ synthesis.HolisticInput) (synthesis.HolisticResult, error) {
	f.Calls++
	if f.Err != nil {
		return synthesis.HolisticResult{}, f.Err
	}
	return f.Result, nil
}

// FakeStrategic returns a canned result or error.
type FakeStrategic struct {
	Result synthesis.StrategicResult
	Err    error
	Input  synthesis.StrategicInput
}

func (f *FakeStrategic) Synthesize(_ context.Context, in synthesis.StrategicInput) (synthesis.StrategicResult, error) {
	if f.Err != nil {
		return synthesis.StrategicResult{}, f.Err
	}
	f.Input = in
	return f.Result, nil
}

// FakeEmbedder returns a deterministic vector derived from the text.
type FakeEmbedder struct {
	Err   error
	Calls []string
}

func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.Calls = append(f.Calls, text)
	if f.Err != nil {
		return nil, f.Err
	}
	v := float32(len(strings.TrimSpace(text))%7) + 1
	return []float32{v, v / 2, v / 3}, nil
}

// FakeReducer returns Coords when set, otherwise evenly spread coordinates.
type FakeReducer struct {
	Alg    string
	Coords []domain.Position
	Err    error
}

func (f *FakeReducer) Algorithm() string {
	if f.Alg == "" {
		return "umap"
	}
	return f.Alg
}

func (f *FakeReducer) Reduce(_ context.Context, vectors [][]float32) ([]domain.Position, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Coords != nil {
		return f.Coords, nil
	}
	out := make([]domain.Position, len(vectors))
	for i := range vectors {
		out[i] = domain.Position{
			X: 1 + float64(i%10)*0.5,
			Y: 1 + float64(i%7)*0.5,
			Z: 1 + float64(i%5)*0.5,
		}
	}
	return out, nil
}

// FakeLocks grants every lease whose key is not in Denied and records
// timeout clears.
type FakeLocks struct {
	mu      sync.Mutex
	Held    map[string]bool
	Denied  map[string]bool
	Cleared []string
}

func NewFakeLocks() *FakeLocks {
	return &FakeLocks{Held: map[string]bool{}, Denied: map[string]bool{}}
}

func (l *FakeLocks) AcquireIngestionLock(_ context.Context, userID, conversationID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := userID + "|" + conversationID
	if l.Denied[key] {
		return false, nil
	}
	l.Held[key] = true
	return true, nil
}

func (l *FakeLocks) ReleaseIngestionLock(_ context.Context, userID, conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.Held, userID+"|"+conversationID)
}

func (l *FakeLocks) ClearConversationTimeout(_ context.Context, userID, conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Cleared = append(l.Cleared, userID+"|"+conversationID)
}
