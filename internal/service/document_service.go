package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"

	"gorm.io/gorm"
)

// 活跃摄取列表的查询上限。
const activeIngestionsLimit = 500

// ErrDocumentNotFound 表示文档不存在或请求方不可见。
var ErrDocumentNotFound = errors.New("文档不存在或无权访问")

// DocumentCounts 是文档状态统计接口的响应体。
type DocumentCounts struct {
	Total      int64 `json:"total"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Indexed    int64 `json:"indexed"`
	Failed     int64 `json:"failed"`
}

// ProgressReader 读取文档的最新进度快照。
type ProgressReader interface {
	GetCached(ctx context.Context, docID string) (*model.ProgressEvent, error)
}

// DocumentService 接口定义了文档查询相关的业务操作。
type DocumentService interface {
	List(tenantID, workspaceID, principalID string, opts repository.DocumentListOptions) ([]model.Document, error)
	Counts(tenantID, workspaceID, principalID string) (*DocumentCounts, error)
	Get(docID, tenantID, workspaceID, principalID string) (*model.Document, error)
	// Progress 返回单个可见文档的最新进度快照。
	Progress(ctx context.Context, docID, tenantID, workspaceID, principalID string) (*model.ProgressEvent, error)
	// ActiveIngestions 列出仍在排队或处理中的可见文档及其最新进度。
	ActiveIngestions(ctx context.Context, tenantID, workspaceID, principalID string) ([]model.ProgressEvent, error)
}

type documentService struct {
	docRepo  repository.DocumentRepository
	progress ProgressReader
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, progress ProgressReader) DocumentService {
	return &documentService{docRepo: docRepo, progress: progress}
}

// List 按可见范围分页列出文档，排序列已由调用方校验。
func (s *documentService) List(tenantID, workspaceID, principalID string, opts repository.DocumentListOptions) ([]model.Document, error) {
	docs, err := s.docRepo.List(tenantID, workspaceID, principalID, opts)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return docs, nil
}

// Counts 统计各状态下可见文档的数量。
func (s *documentService) Counts(tenantID, workspaceID, principalID string) (*DocumentCounts, error) {
	counts, err := s.docRepo.CountsByStatus(tenantID, workspaceID, principalID)
	if err != nil {
		return nil, err
	}
	out := &DocumentCounts{
		Queued:     counts[model.StatusQueued],
		Processing: counts[model.StatusProcessing],
		Indexed:    counts[model.StatusIndexed],
		Failed:     counts[model.StatusFailed],
	}
	out.Total = out.Queued + out.Processing + out.Indexed + out.Failed
	return out, nil
}

// Get 按可见范围检索单个文档。
func (s *documentService) Get(docID, tenantID, workspaceID, principalID string) (*model.Document, error) {
	doc, err := s.docRepo.GetVisible(docID, tenantID, workspaceID, principalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Progress 返回单个文档的最新进度。先做可见性检查，
// 再优先取 Redis 中缓存的进度快照，缺失时以数据库行兜底。
func (s *documentService) Progress(ctx context.Context, docID, tenantID, workspaceID, principalID string) (*model.ProgressEvent, error) {
	doc, err := s.Get(docID, tenantID, workspaceID, principalID)
	if err != nil {
		return nil, err
	}

	if cached, err := s.progress.GetCached(ctx, docID); err == nil && cached != nil {
		return cached, nil
	}
	event := fallbackEvent(*doc)
	return &event, nil
}

// ActiveIngestions 列出仍在排队或处理中的可见文档。
// 优先返回 Redis 中缓存的最新进度快照，读取失败或缺失时以数据库行兜底。
func (s *documentService) ActiveIngestions(ctx context.Context, tenantID, workspaceID, principalID string) ([]model.ProgressEvent, error) {
	docs, err := s.docRepo.ListActive(tenantID, workspaceID, principalID, activeIngestionsLimit)
	if err != nil {
		return nil, err
	}

	out := make([]model.ProgressEvent, 0, len(docs))
	for _, d := range docs {
		if cached, err := s.progress.GetCached(ctx, d.DocID); err == nil && cached != nil {
			out = append(out, *cached)
			continue
		}
		out = append(out, fallbackEvent(d))
	}
	return out, nil
}

// fallbackEvent 在进度缓存缺失时用文档行拼出进度事件，
// 消息措辞与流水线发布的事件保持一致。
func fallbackEvent(d model.Document) model.ProgressEvent {
	message := "In progress…"
	switch {
	case d.Status == model.StatusFailed && d.ErrorMessage != "":
		message = d.ErrorMessage
	case d.Status == model.StatusIndexed:
		message = fmt.Sprintf("Indexed %d chunks", d.ChunkCount)
	}

	return model.ProgressEvent{
		DocID:       d.DocID,
		TenantID:    d.TenantID,
		Scope:       d.Scope,
		WorkspaceID: d.WorkspaceID,
		PrincipalID: d.PrincipalID,
		Filename:    d.Filename,
		Stage:       d.Stage,
		Progress:    d.Progress,
		Message:     message,
		Timestamp:   d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
