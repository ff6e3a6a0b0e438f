package service

import (
	"context"
	"errors"

	"rag-service-go/internal/model"
)

// ErrGraphDisabled 表示图谱组件未启用或连接失败，相关接口不可用。
var ErrGraphDisabled = errors.New("图谱功能未启用")

// EntityListResult 是实体列表接口的响应体。
type EntityListResult struct {
	Count    int                   `json:"count"`
	Entities []model.EntitySummary `json:"entities"`
}

// EntityChunksResult 是"提及某实体的分块"接口的响应体。
type EntityChunksResult struct {
	EntityID string              `json:"entity_id"`
	Count    int                 `json:"count"`
	Chunks   []model.EntityChunk `json:"chunks"`
}

// DocumentEntitiesResult 是"某文档抽取出的实体"接口的响应体。
type DocumentEntitiesResult struct {
	DocID    string                `json:"doc_id"`
	Count    int                   `json:"count"`
	Entities []model.EntitySummary `json:"entities"`
}

// GraphStore 是图谱浏览所需的只读查询集合。
type GraphStore interface {
	ListEntities(ctx context.Context, tenantID, workspaceID, principalID, q, entityType string, limit int) ([]model.EntitySummary, error)
	EntityChunks(ctx context.Context, tenantID, workspaceID, principalID, entityID string, limit int) ([]model.EntityChunk, error)
	DocumentEntities(ctx context.Context, tenantID, workspaceID, principalID, docID string, limit int) ([]model.EntitySummary, error)
}

// GraphService 接口定义了图谱浏览相关的业务操作。
// 图谱未启用时所有方法返回 ErrGraphDisabled。
type GraphService interface {
	Enabled() bool
	ListEntities(ctx context.Context, tenantID, workspaceID, principalID, q, entityType string, limit int) (*EntityListResult, error)
	EntityChunks(ctx context.Context, tenantID, workspaceID, principalID, entityID string, limit int) (*EntityChunksResult, error)
	DocumentEntities(ctx context.Context, tenantID, workspaceID, principalID, docID string, limit int) (*DocumentEntitiesResult, error)
}

type graphService struct {
	store GraphStore // nil 表示图谱不可用
}

// NewGraphService 创建一个新的 GraphService 实例，store 可以为 nil。
func NewGraphService(store GraphStore) GraphService {
	return &graphService{store: store}
}

// Enabled 报告图谱组件是否可用。
func (s *graphService) Enabled() bool {
	return s.store != nil
}

// ListEntities 按可见范围列出租户的图谱实体，支持名称子串与类型过滤。
func (s *graphService) ListEntities(ctx context.Context, tenantID, workspaceID, principalID, q, entityType string, limit int) (*EntityListResult, error) {
	if s.store == nil {
		return nil, ErrGraphDisabled
	}
	entities, err := s.store.ListEntities(ctx, tenantID, workspaceID, principalID, q, entityType, limit)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []model.EntitySummary{}
	}
	return &EntityListResult{Count: len(entities), Entities: entities}, nil
}

// EntityChunks 列出提及某实体且请求方可见的分块。
func (s *graphService) EntityChunks(ctx context.Context, tenantID, workspaceID, principalID, entityID string, limit int) (*EntityChunksResult, error) {
	if s.store == nil {
		return nil, ErrGraphDisabled
	}
	chunks, err := s.store.EntityChunks(ctx, tenantID, workspaceID, principalID, entityID, limit)
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []model.EntityChunk{}
	}
	return &EntityChunksResult{EntityID: entityID, Count: len(chunks), Chunks: chunks}, nil
}

// DocumentEntities 列出某文档的分块所提及的实体。
func (s *graphService) DocumentEntities(ctx context.Context, tenantID, workspaceID, principalID, docID string, limit int) (*DocumentEntitiesResult, error) {
	if s.store == nil {
		return nil, ErrGraphDisabled
	}
	entities, err := s.store.DocumentEntities(ctx, tenantID, workspaceID, principalID, docID, limit)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []model.EntitySummary{}
	}
	return &DocumentEntitiesResult{DocID: docID, Count: len(entities), Entities: entities}, nil
}
