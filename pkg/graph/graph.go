// Package graph 封装 Neo4j 知识图谱的写入与查询。
// 图谱为可选组件: 服务启动时连接失败则以纯向量管线运行, Store 为 nil。
package graph

import (
	"context"
	"fmt"

	"rag-service-go/internal/config"
	"rag-service-go/internal/model"
	"rag-service-go/pkg/log"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store 持有 Neo4j 驱动连接。
type Store struct {
	driver neo4j.DriverWithContext
}

// NewStore 创建驱动并验证连通性。
func NewStore(ctx context.Context, cfg config.Neo4jConfig) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("创建 Neo4j 驱动失败: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("连接 Neo4j 失败: %w", err)
	}
	return &Store{driver: driver}, nil
}

// Close 关闭底层驱动。
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping 探测图谱可用性，供健康检查使用。
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureConstraints 建立 chunkId / entityId 唯一约束。语句幂等，可重复执行。
// 约束类语句必须在自动提交会话中运行，不能包在事务函数里。
func (s *Store) EnsureConstraints(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT chunk_chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.chunkId IS UNIQUE",
		"CREATE CONSTRAINT entity_entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.entityId IS UNIQUE",
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = sess.Close(ctx) }()

	for _, stmt := range statements {
		res, err := sess.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("创建图谱约束失败: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("创建图谱约束失败: %w", err)
		}
	}
	log.Info("[Graph] 图谱唯一约束就绪")
	return nil
}

// ChunkUpsert 是一次图谱写入中单个 chunk 的载荷。
type ChunkUpsert struct {
	ChunkID  string
	Title    string
	Section  string
	Summary  string
	Pages    []int
	Text     string
	Entities []model.Entity
}

// UpsertParams 描述一个文档的整批图谱写入。
type UpsertParams struct {
	TenantID    string
	Scope       string
	WorkspaceID string
	PrincipalID string
	ParentDocID string
	Chunks      []ChunkUpsert
}

const upsertCypher = `
UNWIND $chunks AS ch
MERGE (c:Chunk {chunkId: ch.chunk_id})
SET c.tenantId = ch.tenant_id,
    c.scope = ch.scope,
    c.workspaceId = ch.workspace_id,
    c.principalId = ch.principal_id,
    c.parentDocId = ch.parent_doc_id,
    c.title = ch.title,
    c.section = ch.section,
    c.summary = ch.summary,
    c.pages = ch.pages,
    c.text = ch.text,
    c.updatedAt = datetime()
WITH c, ch
UNWIND ch.entities AS ent
MERGE (e:Entity {entityId: ent.entity_id})
SET e.tenantId = ch.tenant_id,
    e.type = ent.type,
    e.name = ent.name,
    e.updatedAt = datetime()
MERGE (c)-[:MENTIONS]->(e)
`

// UpsertChunks 在单个事务里 MERGE 一个文档的全部 chunk、实体和 MENTIONS 边。
// 以 chunkId / entityId 为键，重复摄取只会原地覆盖属性。
// 返回实际写入的 chunk 数。
func (s *Store) UpsertChunks(ctx context.Context, p UpsertParams) (int, error) {
	payload := make([]map[string]any, 0, len(p.Chunks))
	for _, ch := range p.Chunks {
		if ch.ChunkID == "" {
			continue
		}
		ents := make([]map[string]any, 0, len(ch.Entities))
		for _, e := range ch.Entities {
			ents = append(ents, map[string]any{
				"entity_id": model.EntityID(p.TenantID, e.Type, e.Name),
				"type":      e.Type,
				"name":      e.Name,
			})
		}
		payload = append(payload, map[string]any{
			"chunk_id":      ch.ChunkID,
			"tenant_id":     p.TenantID,
			"scope":         p.Scope,
			"workspace_id":  nullable(p.WorkspaceID),
			"principal_id":  nullable(p.PrincipalID),
			"parent_doc_id": p.ParentDocID,
			"title":         ch.Title,
			"section":       ch.Section,
			"summary":       ch.Summary,
			"pages":         toInt64s(ch.Pages),
			"text":          ch.Text,
			"entities":      ents,
		})
	}

	if len(payload) == 0 {
		return 0, nil
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = sess.Close(ctx) }()

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, upsertCypher, map[string]any{"chunks": payload})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return 0, fmt.Errorf("图谱批量写入失败: %w", err)
	}

	log.Infof("[Graph] 图谱写入完成, chunks: %d", len(payload))
	return len(payload), nil
}

// scopeFilterCypher 生成与向量库一致的可见性谓词。
// 租户级节点永远可见; workspace 级要求调用方携带相同 workspace_id;
// user 级还要求相同 principal_id。
func scopeFilterCypher(v string) string {
	return fmt.Sprintf(`(
  %[1]s.scope = 'tenant'
  OR ($workspace_id IS NOT NULL AND %[1]s.scope = 'workspace' AND %[1]s.workspaceId = $workspace_id)
  OR ($workspace_id IS NOT NULL AND $principal_id IS NOT NULL AND %[1]s.scope = 'user' AND %[1]s.workspaceId = $workspace_id AND %[1]s.principalId = $principal_id)
)`, v)
}

// ExpandParams 描述一次图邻域扩展。
type ExpandParams struct {
	TenantID     string
	WorkspaceID  string
	PrincipalID  string
	SeedChunkIDs []string
	Limit        int
	EntityLimit  int
}

// ExpandedChunk 是图扩展返回的一行: 与种子共享实体的非种子 chunk。
type ExpandedChunk struct {
	ChunkID             string
	DocID               string
	Scope               string
	WorkspaceID         string
	PrincipalID         string
	Title               string
	Section             string
	Summary             string
	Pages               []int
	Text                string
	GraphSharedEntities int64
	GraphEntities       []string
}

// Expand 从种子 chunk 出发做两跳扩展:
// 先取种子提及频次最高的前 entity_limit 个实体，再找提及这些实体的其他
// chunk，按共享实体数降序返回前 limit 条，每条附带最多 5 个示例实体名。
func (s *Store) Expand(ctx context.Context, p ExpandParams) ([]ExpandedChunk, error) {
	if len(p.SeedChunkIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
MATCH (seed:Chunk)
WHERE seed.tenantId = $tenant_id AND seed.chunkId IN $seed_chunk_ids AND %s
MATCH (seed)-[:MENTIONS]->(e:Entity)
WHERE e.tenantId = $tenant_id
WITH e, count(*) AS freq
ORDER BY freq DESC
LIMIT $entity_limit
MATCH (e)<-[:MENTIONS]-(c:Chunk)
WHERE c.tenantId = $tenant_id AND NOT (c.chunkId IN $seed_chunk_ids) AND %s
WITH c, collect(DISTINCT e.name) AS via_entities, count(DISTINCT e) AS shared_count
RETURN
  c.chunkId AS chunk_id,
  c.parentDocId AS doc_id,
  c.scope AS scope,
  c.workspaceId AS workspace_id,
  c.principalId AS principal_id,
  c.title AS title,
  c.section AS section,
  c.summary AS summary,
  c.pages AS pages,
  c.text AS text,
  shared_count AS graph_shared_entities,
  via_entities[0..5] AS graph_entities
ORDER BY graph_shared_entities DESC
LIMIT $limit
`, scopeFilterCypher("seed"), scopeFilterCypher("c"))

	params := map[string]any{
		"tenant_id":      p.TenantID,
		"workspace_id":   nullable(p.WorkspaceID),
		"principal_id":   nullable(p.PrincipalID),
		"seed_chunk_ids": p.SeedChunkIDs,
		"limit":          p.Limit,
		"entity_limit":   p.EntityLimit,
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = sess.Close(ctx) }()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]ExpandedChunk, 0, len(records))
		for _, rec := range records {
			m := rec.AsMap()
			rows = append(rows, ExpandedChunk{
				ChunkID:             mapString(m, "chunk_id"),
				DocID:               mapString(m, "doc_id"),
				Scope:               mapString(m, "scope"),
				WorkspaceID:         mapString(m, "workspace_id"),
				PrincipalID:         mapString(m, "principal_id"),
				Title:               mapString(m, "title"),
				Section:             mapString(m, "section"),
				Summary:             mapString(m, "summary"),
				Pages:               mapInts(m, "pages"),
				Text:                mapString(m, "text"),
				GraphSharedEntities: mapInt64(m, "graph_shared_entities"),
				GraphEntities:       mapStrings(m, "graph_entities"),
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("图扩展查询失败: %w", err)
	}
	return out.([]ExpandedChunk), nil
}

// ListEntities 列出租户下的实体，按可见 chunk 提及数降序。
// q 对实体名做大小写不敏感的子串匹配, entityType 做精确匹配，均可为空。
func (s *Store) ListEntities(ctx context.Context, tenantID, workspaceID, principalID, q, entityType string, limit int) ([]model.EntitySummary, error) {
	query := fmt.Sprintf(`
MATCH (e:Entity)
WHERE e.tenantId = $tenant_id
  AND ($q IS NULL OR toLower(e.name) CONTAINS toLower($q))
  AND ($entity_type IS NULL OR e.type = $entity_type)
OPTIONAL MATCH (e)<-[:MENTIONS]-(c:Chunk)
WHERE c.tenantId = $tenant_id AND %s
WITH e, count(DISTINCT c) AS chunk_mentions
RETURN e.entityId AS entity_id, e.type AS type, e.name AS name, chunk_mentions
ORDER BY chunk_mentions DESC, name ASC
LIMIT $limit
`, scopeFilterCypher("c"))

	params := map[string]any{
		"tenant_id":    tenantID,
		"workspace_id": nullable(workspaceID),
		"principal_id": nullable(principalID),
		"q":            nullable(q),
		"entity_type":  nullable(entityType),
		"limit":        limit,
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = sess.Close(ctx) }()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]model.EntitySummary, 0, len(records))
		for _, rec := range records {
			m := rec.AsMap()
			rows = append(rows, model.EntitySummary{
				EntityID:      mapString(m, "entity_id"),
				Type:          mapString(m, "type"),
				Name:          mapString(m, "name"),
				ChunkMentions: mapInt64(m, "chunk_mentions"),
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("实体列表查询失败: %w", err)
	}
	return out.([]model.EntitySummary), nil
}

// EntityChunks 返回提及指定实体、且调用方可见的 chunk。
func (s *Store) EntityChunks(ctx context.Context, tenantID, workspaceID, principalID, entityID string, limit int) ([]model.EntityChunk, error) {
	query := fmt.Sprintf(`
MATCH (e:Entity {entityId: $entity_id})
WHERE e.tenantId = $tenant_id
MATCH (e)<-[:MENTIONS]-(c:Chunk)
WHERE c.tenantId = $tenant_id AND %s
RETURN
  c.chunkId AS chunk_id,
  c.parentDocId AS doc_id,
  c.title AS title,
  c.section AS section,
  c.summary AS summary,
  c.pages AS pages,
  c.text AS text
ORDER BY doc_id ASC, chunk_id ASC
LIMIT $limit
`, scopeFilterCypher("c"))

	params := map[string]any{
		"tenant_id":    tenantID,
		"workspace_id": nullable(workspaceID),
		"principal_id": nullable(principalID),
		"entity_id":    entityID,
		"limit":        limit,
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = sess.Close(ctx) }()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]model.EntityChunk, 0, len(records))
		for _, rec := range records {
			m := rec.AsMap()
			rows = append(rows, model.EntityChunk{
				ChunkID: mapString(m, "chunk_id"),
				DocID:   mapString(m, "doc_id"),
				Title:   mapString(m, "title"),
				Section: mapString(m, "section"),
				Summary: mapString(m, "summary"),
				Pages:   mapInts(m, "pages"),
				Text:    mapString(m, "text"),
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("实体关联 chunk 查询失败: %w", err)
	}
	return out.([]model.EntityChunk), nil
}

// DocumentEntities 返回某文档可见 chunk 提及的实体，按提及数降序。
func (s *Store) DocumentEntities(ctx context.Context, tenantID, workspaceID, principalID, docID string, limit int) ([]model.EntitySummary, error) {
	query := fmt.Sprintf(`
MATCH (c:Chunk)
WHERE c.tenantId = $tenant_id AND c.parentDocId = $doc_id AND %s
MATCH (c)-[:MENTIONS]->(e:Entity)
WHERE e.tenantId = $tenant_id
WITH e, count(DISTINCT c) AS chunk_mentions
RETURN e.entityId AS entity_id, e.type AS type, e.name AS name, chunk_mentions
ORDER BY chunk_mentions DESC, name ASC
LIMIT $limit
`, scopeFilterCypher("c"))

	params := map[string]any{
		"tenant_id":    tenantID,
		"workspace_id": nullable(workspaceID),
		"principal_id": nullable(principalID),
		"doc_id":       docID,
		"limit":        limit,
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() { _ = sess.Close(ctx) }()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]model.EntitySummary, 0, len(records))
		for _, rec := range records {
			m := rec.AsMap()
			rows = append(rows, model.EntitySummary{
				EntityID:      mapString(m, "entity_id"),
				Type:          mapString(m, "type"),
				Name:          mapString(m, "name"),
				ChunkMentions: mapInt64(m, "chunk_mentions"),
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, fmt.Errorf("文档实体查询失败: %w", err)
	}
	return out.([]model.EntitySummary), nil
}

// nullable 把空串映射为 NULL，与 Cypher 里的 IS NOT NULL 判断配合。
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toInt64s(in []int) []int64 {
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}

func mapString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func mapInt64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func mapInts(m map[string]any, key string) []int {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case int64:
			out = append(out, int(v))
		case float64:
			out = append(out, int(v))
		}
	}
	return out
}

func mapStrings(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if v, ok := item.(string); ok {
			out = append(out, v)
		}
	}
	return out
}
