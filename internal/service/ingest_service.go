// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"rag-service-go/internal/config"
	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"
	"rag-service-go/pkg/log"
	"rag-service-go/pkg/queue"
	"rag-service-go/pkg/storage"

	"github.com/google/uuid"
)

// 展示文件名的最大长度。
const maxFilenameLen = 512

// IngestInput 封装一次文档摄取请求。可见范围字段已由调用方校验。
type IngestInput struct {
	TenantID    string
	Scope       string
	WorkspaceID string
	PrincipalID string
	Filename    string
	ContentType string
	Content     []byte
}

// IngestResult 是摄取接口的响应体。
type IngestResult struct {
	DocID  string `json:"doc_id"`
	Status string `json:"status"`
}

// ProgressPublisher 对外广播摄取进度事件。
type ProgressPublisher interface {
	Publish(ctx context.Context, event model.ProgressEvent)
}

// IngestService 接口定义了文档摄取相关的业务操作。
type IngestService interface {
	Ingest(ctx context.Context, in IngestInput) (*IngestResult, error)
}

type ingestService struct {
	docRepo  repository.DocumentRepository
	queue    queue.Queue
	broker   ProgressPublisher
	minioCfg config.MinIOConfig
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(docRepo repository.DocumentRepository, q queue.Queue, broker ProgressPublisher, minioCfg config.MinIOConfig) IngestService {
	return &ingestService{
		docRepo:  docRepo,
		queue:    q,
		broker:   broker,
		minioCfg: minioCfg,
	}
}

// Ingest 接收上传内容：写入对象存储、落库文档记录、任务入队并广播排队事件。
// 文档的实际处理由摄取 worker 异步完成。
func (s *ingestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	docID := uuid.New().String()
	displayName := sanitizeFilename(in.Filename, docID)

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// tenant 范围不落 workspace，非 user 范围不落 principal，
	// 保证范围谓词在三个存储层上判断一致。
	workspaceID := in.WorkspaceID
	principalID := in.PrincipalID
	if in.Scope == model.ScopeTenant {
		workspaceID = ""
	}
	if in.Scope != model.ScopeUser {
		principalID = ""
	}

	objectKey := fmt.Sprintf("uploads/%s/%s/%s", in.TenantID, docID, path.Base(displayName))
	if err := storage.PutDocument(ctx, s.minioCfg.BucketName, objectKey, in.Content, contentType); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	doc := &model.Document{
		DocID:       docID,
		TenantID:    in.TenantID,
		Scope:       in.Scope,
		WorkspaceID: workspaceID,
		PrincipalID: principalID,
		Filename:    displayName,
		ContentType: contentType,
		ObjectKey:   objectKey,
		SizeBytes:   int64(len(in.Content)),
		Status:      model.StatusQueued,
		Stage:       model.StageQueued,
		Progress:    0,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	if err := s.queue.Enqueue(ctx, queue.Envelope{DocID: docID}); err != nil {
		return nil, fmt.Errorf("任务入队失败: %w", err)
	}
	s.broker.Publish(ctx, model.ProgressEvent{
		DocID:       docID,
		TenantID:    in.TenantID,
		Scope:       in.Scope,
		WorkspaceID: workspaceID,
		PrincipalID: principalID,
		Filename:    displayName,
		Stage:       model.StageQueued,
		Progress:    0,
		Message:     "Queued for ingestion",
	})

	log.Infof("[Ingest] 文档已入队, DocID: %s, FileName: %s, Tenant: %s, Scope: %s, Size: %d",
		docID, displayName, in.TenantID, in.Scope, len(in.Content))
	return &IngestResult{DocID: docID, Status: model.StatusQueued}, nil
}

// sanitizeFilename 清洗客户端提交的展示文件名：
// 去掉 NUL、统一 Windows 分隔符、去掉开头的 "/"、丢弃 "." 和 ".." 路径段，
// 截断到最大长度；清洗后为空时回退为 fallback。
func sanitizeFilename(raw, fallback string) string {
	name := strings.TrimSpace(strings.ReplaceAll(raw, "\x00", ""))
	if name == "" {
		name = fallback
	}

	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")

	parts := make([]string, 0, 4)
	for _, part := range strings.Split(name, "/") {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		name = fallback
	} else {
		name = strings.Join(parts, "/")
	}

	if len(name) > maxFilenameLen {
		cut := maxFilenameLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}
