package databases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"mnemo/internal/config"
	"mnemo/internal/domain"
	"mnemo/internal/observability"
	"mnemo/internal/persistence"
)

// Neo4jGraphStore is the Neo4j-backed ontology store. One session per call,
// one managed transaction per write batch.
type Neo4jGraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jGraphStore(ctx context.Context, cfg config.Neo4jConfig) (*Neo4jGraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	s := &Neo4jGraphStore{driver: driver, database: cfg.Database}
	s.ensureSchema(ctx)
	return s, nil
}

// ensureSchema creates id constraints. Best-effort; may fail for restricted users.
func (s *Neo4jGraphStore) ensureSchema(ctx context.Context) {
	session := s.session(ctx)
	defer session.Close(ctx)
	stmts := []string{
		`CREATE CONSTRAINT memory_unit_id_unique IF NOT EXISTS FOR (n:MemoryUnit) REQUIRE n.entity_id IS UNIQUE`,
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (n:Concept) REQUIRE n.entity_id IS UNIQUE`,
		`CREATE INDEX entity_user_idx IF NOT EXISTS FOR (n:Concept) ON (n.user_id, n.status)`,
	}
	for _, stmt := range stmts {
		if res, err := session.Run(ctx, stmt, nil); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("neo4j schema init failed (continuing)")
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (s *Neo4jGraphStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

func (s *Neo4jGraphStore) readSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
}

// safeLabel strips anything that is not a letter, digit, or underscore so a
// label or relationship type can be interpolated into cypher. Relationship
// types come from NormalizeRelationshipType and labels from the closed
// EntityType set, so this is a backstop, not a sanitizer of user text.
func safeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "RELATED_TO"
	}
	return b.String()
}

type neo4jTx struct {
	ctx context.Context
	tx  neo4j.ManagedTransaction
}

func (t *neo4jTx) UpsertNode(label string, properties map[string]any) error {
	entityID, _ := properties["entity_id"].(string)
	userID, _ := properties["user_id"].(string)
	if entityID == "" || userID == "" {
		return fmt.Errorf("graph node requires entity_id and user_id")
	}
	cypher := fmt.Sprintf(`
MERGE (n:%s {entity_id: $entity_id, user_id: $user_id})
SET n += $props`, safeLabel(label))
	res, err := t.tx.Run(t.ctx, cypher, map[string]any{
		"entity_id": entityID,
		"user_id":   userID,
		"props":     properties,
	})
	if err != nil {
		return err
	}
	_, err = res.Consume(t.ctx)
	return err
}

func (t *neo4jTx) AppendNodeContent(entityID, userID, addition string) error {
	res, err := t.tx.Run(t.ctx, `
MATCH (n {entity_id: $entity_id, user_id: $user_id})
SET n.content = coalesce(n.content, '') + '\n' + $addition,
    n.updated_at = $now`, map[string]any{
		"entity_id": entityID,
		"user_id":   userID,
		"addition":  addition,
		"now":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	_, err = res.Consume(t.ctx)
	return err
}

func (t *neo4jTx) CreateRelationship(rel domain.Relationship) error {
	cypher := fmt.Sprintf(`
MATCH (a {entity_id: $source, user_id: $user_id})
MATCH (b {entity_id: $target, user_id: $user_id})
MERGE (a)-[r:%s {relationship_id: $rid}]->(b)
SET r.user_id = $user_id,
    r.strength = $strength,
    r.description = $description,
    r.source_agent = $source_agent,
    r.created_at = $created_at`, safeLabel(rel.Type))
	params := map[string]any{
		"source":       rel.SourceEntityID,
		"target":       rel.TargetEntityID,
		"user_id":      rel.UserID,
		"rid":          rel.RelationshipID,
		"strength":     rel.Strength,
		"description":  rel.Description,
		"source_agent": rel.SourceAgent,
		"created_at":   rel.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rel.StrategicValue != "" {
		cypher += ",\n    r.strategic_value = $strategic_value"
		params["strategic_value"] = rel.StrategicValue
	}
	res, err := t.tx.Run(t.ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(t.ctx)
	return err
}

func (s *Neo4jGraphStore) Write(ctx context.Context, fn func(tx persistence.GraphTx) error) error {
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{ctx: ctx, tx: tx})
	})
	return err
}

// incidentEdge is one edge touching a merge secondary, materialized so it can
// be recreated against the primary. Relationship types cannot be parameterized
// in cypher, so the rewrite reads first and recreates per distinct type.
type incidentEdge struct {
	otherID  string
	relType  string
	outgoing bool
	props    map[string]any
}

func (s *Neo4jGraphStore) MergeConcepts(ctx context.Context, userID, primaryID string, primaryProps map[string]any, secondaryIDs []string) error {
	session := s.session(ctx)
	defer session.Close(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(primaryProps) > 0 {
			res, err := tx.Run(ctx, `
MATCH (p:Concept {entity_id: $id, user_id: $user_id})
SET p += $props`, map[string]any{"id": primaryID, "user_id": userID, "props": primaryProps})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		for _, secID := range secondaryIDs {
			edges, err := collectIncidentEdges(ctx, tx, userID, secID, primaryID)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				pattern := `(p)-[r:%s]->(o)`
				if !e.outgoing {
					pattern = `(o)-[r:%s]->(p)`
				}
				cypher := fmt.Sprintf(`
MATCH (p:Concept {entity_id: $primary, user_id: $user_id})
MATCH (o {entity_id: $other, user_id: $user_id})
MERGE `+pattern+`
SET r += $props,
    r.redirected_from = $redirected_from,
    r.redirected_at = $redirected_at`, safeLabel(e.relType))
				res, err := tx.Run(ctx, cypher, map[string]any{
					"primary":         primaryID,
					"other":           e.otherID,
					"user_id":         userID,
					"props":           e.props,
					"redirected_from": secID,
					"redirected_at":   now,
				})
				if err != nil {
					return nil, err
				}
				if _, err := res.Consume(ctx); err != nil {
					return nil, err
				}
			}

			res, err := tx.Run(ctx, `
MATCH (sec:Concept {entity_id: $id, user_id: $user_id})
DETACH DELETE sec`, map[string]any{"id": secID, "user_id": userID})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func collectIncidentEdges(ctx context.Context, tx neo4j.ManagedTransaction, userID, secID, primaryID string) ([]incidentEdge, error) {
	res, err := tx.Run(ctx, `
MATCH (sec {entity_id: $id, user_id: $user_id})-[r]-(o)
WHERE o.entity_id <> $primary AND o.user_id = $user_id
RETURN o.entity_id AS other, type(r) AS rel_type,
       startNode(r) = sec AS outgoing, properties(r) AS props`, map[string]any{
		"id": secID, "user_id": userID, "primary": primaryID,
	})
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	edges := make([]incidentEdge, 0, len(records))
	for _, rec := range records {
		other, _ := rec.Get("other")
		relType, _ := rec.Get("rel_type")
		outgoing, _ := rec.Get("outgoing")
		props, _ := rec.Get("props")
		e := incidentEdge{}
		e.otherID, _ = other.(string)
		e.relType, _ = relType.(string)
		e.outgoing, _ = outgoing.(bool)
		if m, ok := props.(map[string]any); ok {
			e.props = m
		} else {
			e.props = map[string]any{}
		}
		if e.otherID == "" || e.relType == "" {
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func (s *Neo4jGraphStore) ArchiveConcept(ctx context.Context, userID, conceptID, rationale string) error {
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:Concept {entity_id: $id, user_id: $user_id})
SET c.status = 'archived',
    c.archived_at = $now,
    c.archive_rationale = $rationale`, map[string]any{
			"id":        conceptID,
			"user_id":   userID,
			"now":       time.Now().UTC().Format(time.RFC3339Nano),
			"rationale": rationale,
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (s *Neo4jGraphStore) CreateCommunity(ctx context.Context, community domain.Community) error {
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (comm:Community {entity_id: $id, user_id: $user_id})
SET comm.title = $title,
    comm.content = $content,
    comm.entity_type = 'Community',
    comm.created_at = $created_at
WITH comm
UNWIND $members AS mid
MATCH (c:Concept {entity_id: mid, user_id: $user_id})
MERGE (c)-[:MEMBER_OF]->(comm)`, map[string]any{
			"id":         community.ID,
			"user_id":    community.UserID,
			"title":      community.Title,
			"content":    community.Content,
			"created_at": community.CreatedAt.UTC().Format(time.RFC3339Nano),
			"members":    community.MemberConceptIDs,
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (s *Neo4jGraphStore) Subgraph(ctx context.Context, userID string) ([]persistence.GraphNode, []persistence.GraphEdge, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodeRes, err := tx.Run(ctx, `
MATCH (n {user_id: $user_id})
WHERE NOT coalesce(n.status, 'active') IN ['merged', 'archived']
RETURN n.entity_id AS id, labels(n) AS labels, properties(n) AS props`, map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}
		nodeRecs, err := nodeRes.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var nodes []persistence.GraphNode
		for _, rec := range nodeRecs {
			idVal, _ := rec.Get("id")
			labelsVal, _ := rec.Get("labels")
			propsVal, _ := rec.Get("props")
			id, _ := idVal.(string)
			if id == "" {
				continue
			}
			n := persistence.GraphNode{EntityID: id}
			if ls, ok := labelsVal.([]any); ok {
				for _, l := range ls {
					if s, ok := l.(string); ok {
						n.Labels = append(n.Labels, s)
					}
				}
			}
			if m, ok := propsVal.(map[string]any); ok {
				n.Properties = m
			}
			nodes = append(nodes, n)
		}

		edgeRes, err := tx.Run(ctx, `
MATCH (a {user_id: $user_id})-[r]->(b {user_id: $user_id})
WHERE NOT coalesce(a.status, 'active') IN ['merged', 'archived']
  AND NOT coalesce(b.status, 'active') IN ['merged', 'archived']
RETURN a.entity_id AS source, b.entity_id AS target, type(r) AS rel_type`, map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}
		edgeRecs, err := edgeRes.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var edges []persistence.GraphEdge
		for _, rec := range edgeRecs {
			srcVal, _ := rec.Get("source")
			dstVal, _ := rec.Get("target")
			typVal, _ := rec.Get("rel_type")
			e := persistence.GraphEdge{}
			e.Source, _ = srcVal.(string)
			e.Target, _ = dstVal.(string)
			e.Type, _ = typVal.(string)
			if e.Source == "" || e.Target == "" {
				continue
			}
			edges = append(edges, e)
		}
		return [2]any{nodes, edges}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	pair := out.([2]any)
	nodes, _ := pair[0].([]persistence.GraphNode)
	edges, _ := pair[1].([]persistence.GraphEdge)
	return nodes, edges, nil
}

func (s *Neo4jGraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
