package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kalambet/canon/internal/content"
)

// Neo4jStore keeps universes as (:Universe)-[:HAS_CATEGORY]->(:Category)
// trees with generated entities attached as (:Page) nodes.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to the Neo4j server at uri. The connection is
// lazy; call WaitReady before serving traffic.
func NewNeo4jStore(uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	return &Neo4jStore{driver: driver, database: "neo4j"}, nil
}

// Ping verifies the server is reachable with the configured credentials.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close releases the driver's connections.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

const universeReturn = `RETURN u.id AS id, u.name AS name, u.description AS description, u.createdAt AS createdAt`

func (s *Neo4jStore) CreateUniverse(ctx context.Context, u content.Universe) (content.Universe, error) {
	cats := make([]map[string]any, 0, 4)
	for _, c := range content.Categories() {
		cats = append(cats, map[string]any{"name": c.Name, "description": c.Description})
	}
	query := `
		CREATE (u:Universe {id: $id, name: $name, description: $description, createdAt: $createdAt})
		WITH u
		UNWIND $categories AS cat
		CREATE (c:Category {universeId: $id, name: cat.name, description: cat.description, createdAt: $createdAt})
		MERGE (u)-[:HAS_CATEGORY]->(c)
		WITH DISTINCT u
		` + universeReturn
	recs, err := s.run(ctx, query, map[string]any{
		"id":          u.ID,
		"name":        u.Name,
		"description": u.Description,
		"createdAt":   u.CreatedAt.UnixMilli(),
		"categories":  cats,
	})
	if err != nil {
		return content.Universe{}, fmt.Errorf("create universe %s: %w", u.ID, err)
	}
	if len(recs) == 0 {
		return content.Universe{}, fmt.Errorf("create universe %s: no record returned", u.ID)
	}
	return universeFromRecord(recs[0]), nil
}

func (s *Neo4jStore) ListUniverses(ctx context.Context) ([]content.Universe, error) {
	recs, err := s.run(ctx, `MATCH (u:Universe) `+universeReturn+` ORDER BY u.createdAt DESC`, nil)
	if err != nil {
		return nil, fmt.Errorf("list universes: %w", err)
	}
	out := make([]content.Universe, 0, len(recs))
	for _, r := range recs {
		out = append(out, universeFromRecord(r))
	}
	return out, nil
}

func (s *Neo4jStore) GetUniverse(ctx context.Context, id string) (content.Universe, error) {
	recs, err := s.run(ctx, `MATCH (u:Universe {id: $id}) `+universeReturn, map[string]any{"id": id})
	if err != nil {
		return content.Universe{}, fmt.Errorf("get universe %s: %w", id, err)
	}
	if len(recs) == 0 {
		return content.Universe{}, ErrNotFound
	}
	return universeFromRecord(recs[0]), nil
}

const pageReturn = `RETURN p.id AS id, p.name AS name, p.title AS title, p.markdown AS markdown,
	p.summary AS summary, p.entityType AS type, p.universeId AS universeId, p.jobId AS jobId,
	p.createdAt AS createdAt`

// entityQuery builds the create statement for e. Entities inside a universe
// hang off the matching category; a job id turns CREATE into MERGE so
// repeated completions of one job yield a single page.
func entityQuery(e content.Entity) string {
	var q string
	if e.UniverseID != "" {
		q = `MATCH (:Universe {id: $universeId})-[:HAS_CATEGORY]->(c:Category {name: $category})
		`
	}

	props := `id: $id, name: $name, title: $title, markdown: $markdown, summary: $summary,
		entityType: $type, universeId: $universeId, jobId: $jobId, createdAt: $createdAt`
	if e.JobID != "" {
		q += `MERGE (p:Page {jobId: $jobId})
		ON CREATE SET p += {` + props + `}
		`
	} else {
		q += `CREATE (p:Page {` + props + `})
		`
	}
	if e.UniverseID != "" {
		q += `MERGE (c)-[:HAS_PAGE]->(p)
		`
	}
	return q + pageReturn
}

func (s *Neo4jStore) CreateEntity(ctx context.Context, e content.Entity) (content.Entity, error) {
	category := ""
	if t, err := content.ParseType(e.Type); err == nil {
		category = t.Category()
	}
	recs, err := s.run(ctx, entityQuery(e), map[string]any{
		"id":         e.ID,
		"name":       e.Name,
		"title":      e.Title,
		"markdown":   e.Markdown,
		"summary":    e.Summary,
		"type":       e.Type,
		"category":   category,
		"universeId": e.UniverseID,
		"jobId":      e.JobID,
		"createdAt":  e.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return content.Entity{}, fmt.Errorf("create entity %s: %w", e.ID, err)
	}
	if len(recs) == 0 {
		return content.Entity{}, fmt.Errorf("universe %s: %w", e.UniverseID, ErrNotFound)
	}
	return entityFromRecord(recs[0]), nil
}

func (s *Neo4jStore) GetEntity(ctx context.Context, id string) (content.Entity, error) {
	recs, err := s.run(ctx, `MATCH (p:Page {id: $id}) `+pageReturn, map[string]any{"id": id})
	if err != nil {
		return content.Entity{}, fmt.Errorf("get entity %s: %w", id, err)
	}
	if len(recs) == 0 {
		return content.Entity{}, ErrNotFound
	}
	return entityFromRecord(recs[0]), nil
}

func (s *Neo4jStore) ListEntities(ctx context.Context, universeID string, t content.Type) ([]content.Entity, error) {
	query := `MATCH (p:Page {universeId: $universeId})`
	params := map[string]any{"universeId": universeID}
	if t != "" {
		query += ` WHERE p.entityType = $type`
		params["type"] = t.Label()
	}
	query += ` ` + pageReturn + ` ORDER BY p.createdAt ASC`

	recs, err := s.run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := make([]content.Entity, 0, len(recs))
	for _, r := range recs {
		out = append(out, entityFromRecord(r))
	}
	return out, nil
}

func recordString(r *neo4j.Record, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordTime(r *neo4j.Record, key string) time.Time {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return time.Time{}
	}
	switch ms := v.(type) {
	case int64:
		return time.UnixMilli(ms).UTC()
	case float64:
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

func universeFromRecord(r *neo4j.Record) content.Universe {
	return content.Universe{
		ID:          recordString(r, "id"),
		Name:        recordString(r, "name"),
		Description: recordString(r, "description"),
		CreatedAt:   recordTime(r, "createdAt"),
	}
}

func entityFromRecord(r *neo4j.Record) content.Entity {
	return content.Entity{
		ID:         recordString(r, "id"),
		Name:       recordString(r, "name"),
		Title:      recordString(r, "title"),
		Markdown:   recordString(r, "markdown"),
		Summary:    recordString(r, "summary"),
		Type:       recordString(r, "type"),
		UniverseID: recordString(r, "universeId"),
		JobID:      recordString(r, "jobId"),
		CreatedAt:  recordTime(r, "createdAt"),
	}
}
