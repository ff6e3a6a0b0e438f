// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"rag-service-go/internal/model"

	"gorm.io/gorm"
)

// DocumentListOptions 描述文档列表查询的过滤、排序与分页参数。
// SortColumn 必须是调用方校验过的列名。
type DocumentListOptions struct {
	Status     string
	SortColumn string
	Descending bool
	Limit      int
	Offset     int
}

// DocumentRepository 接口定义了文档表相关的数据持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	// GetByID 不做范围过滤，供摄取 worker 使用。
	GetByID(docID string) (*model.Document, error)
	// GetVisible 按请求方的可见范围检索单个文档。
	GetVisible(docID, tenantID, workspaceID, principalID string) (*model.Document, error)
	List(tenantID, workspaceID, principalID string, opts DocumentListOptions) ([]model.Document, error)
	CountsByStatus(tenantID, workspaceID, principalID string) (map[string]int64, error)
	// CountsAllByStatus 统计全部租户的文档状态分布，供管理端使用。
	CountsAllByStatus() (map[string]int64, error)
	// ListActive 返回 queued/processing 状态的可见文档，按创建时间倒序。
	ListActive(tenantID, workspaceID, principalID string, limit int) ([]model.Document, error)

	MarkProcessing(docID string) error
	UpdateStage(docID, stage string) error
	MarkIndexed(docID string, chunkCount, entityCount int) error
	MarkFailed(docID, errMsg string) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// accessScope 构造可见范围查询条件：
// tenant 范围的文档租户内总是可见；workspace 范围需请求方携带相同的 workspace_id；
// user 范围需 workspace_id 与 principal_id 同时匹配。
// 该谓词必须与 Elasticsearch 检索、Neo4j 遍历使用的范围过滤保持一致。
func (r *documentRepository) accessScope(tenantID, workspaceID, principalID string) *gorm.DB {
	access := r.db.Where("scope = ?", model.ScopeTenant)
	if workspaceID != "" {
		access = access.Or("scope = ? AND workspace_id = ?", model.ScopeWorkspace, workspaceID)
		if principalID != "" {
			access = access.Or("scope = ? AND workspace_id = ? AND principal_id = ?",
				model.ScopeUser, workspaceID, principalID)
		}
	}
	return r.db.Where("tenant_id = ?", tenantID).Where(access)
}

// Create 在数据库中创建一条新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// GetByID 根据文档 ID 检索文档记录。
func (r *documentRepository) GetByID(docID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("doc_id = ?", docID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetVisible 根据文档 ID 检索请求方可见的文档记录。
func (r *documentRepository) GetVisible(docID, tenantID, workspaceID, principalID string) (*model.Document, error) {
	var doc model.Document
	err := r.accessScope(tenantID, workspaceID, principalID).
		Where("doc_id = ?", docID).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List 按可见范围分页列出文档。
func (r *documentRepository) List(tenantID, workspaceID, principalID string, opts DocumentListOptions) ([]model.Document, error) {
	q := r.accessScope(tenantID, workspaceID, principalID)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}

	direction := "asc"
	if opts.Descending {
		direction = "desc"
	}
	// doc_id 作第二排序键，保证分页顺序稳定。
	q = q.Order(opts.SortColumn + " " + direction).Order("doc_id asc")

	var docs []model.Document
	err := q.Offset(opts.Offset).Limit(opts.Limit).Find(&docs).Error
	return docs, err
}

// CountsByStatus 按状态统计可见文档数量。
func (r *documentRepository) CountsByStatus(tenantID, workspaceID, principalID string) (map[string]int64, error) {
	return r.countGrouped(r.accessScope(tenantID, workspaceID, principalID))
}

// CountsAllByStatus 不带范围谓词统计全库文档状态分布。
func (r *documentRepository) CountsAllByStatus() (map[string]int64, error) {
	return r.countGrouped(r.db)
}

func (r *documentRepository) countGrouped(q *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := q.Model(&model.Document{}).
		Select("status, count(doc_id) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{
		model.StatusQueued:     0,
		model.StatusProcessing: 0,
		model.StatusIndexed:    0,
		model.StatusFailed:     0,
	}
	for _, row := range rows {
		if _, ok := counts[row.Status]; ok {
			counts[row.Status] = row.Total
		}
	}
	return counts, nil
}

// ListActive 列出仍在排队或处理中的可见文档。
func (r *documentRepository) ListActive(tenantID, workspaceID, principalID string, limit int) ([]model.Document, error) {
	var docs []model.Document
	err := r.accessScope(tenantID, workspaceID, principalID).
		Where("status IN ?", []string{model.StatusQueued, model.StatusProcessing}).
		Order("created_at desc").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// MarkProcessing 将文档标记为处理中。
func (r *documentRepository) MarkProcessing(docID string) error {
	return r.db.Model(&model.Document{}).Where("doc_id = ?", docID).Updates(map[string]interface{}{
		"status":   model.StatusProcessing,
		"stage":    model.StageProcessing,
		"progress": model.StageProgress(model.StageProcessing),
	}).Error
}

// UpdateStage 更新文档的细粒度处理阶段及对应进度。
func (r *documentRepository) UpdateStage(docID, stage string) error {
	return r.db.Model(&model.Document{}).Where("doc_id = ?", docID).Updates(map[string]interface{}{
		"stage":    stage,
		"progress": model.StageProgress(stage),
	}).Error
}

// MarkIndexed 将文档标记为摄取成功，并记录最终的分块数与实体数。
func (r *documentRepository) MarkIndexed(docID string, chunkCount, entityCount int) error {
	return r.db.Model(&model.Document{}).Where("doc_id = ?", docID).Updates(map[string]interface{}{
		"status":       model.StatusIndexed,
		"stage":        model.StageIndexed,
		"progress":     model.StageProgress(model.StageIndexed),
		"chunk_count":  chunkCount,
		"entity_count": entityCount,
	}).Error
}

// MarkFailed 将文档标记为失败并保存错误信息。
func (r *documentRepository) MarkFailed(docID, errMsg string) error {
	return r.db.Model(&model.Document{}).Where("doc_id = ?", docID).Updates(map[string]interface{}{
		"status":        model.StatusFailed,
		"stage":         model.StageFailed,
		"progress":      model.StageProgress(model.StageFailed),
		"error_message": errMsg,
	}).Error
}
