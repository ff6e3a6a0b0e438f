// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 文档的粗粒度状态。status 只在入队、开始处理、成功、失败四个节点变化，
// 细粒度的阶段进展记录在 stage/progress 字段中。
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// 摄取流水线的细粒度阶段。
const (
	StageQueued       = "queued"
	StageProcessing   = "processing"
	StageReading      = "reading"
	StageChunking     = "chunking"
	StageEmbedding    = "embedding"
	StageEntities     = "entities"
	StageGraphWriting = "graph-writing"
	StageIndexed      = "indexed"
	StageFailed       = "failed"
)

// 文档的可见范围。
const (
	ScopeTenant    = "tenant"
	ScopeWorkspace = "workspace"
	ScopeUser      = "user"
)

// stageProgress 将阶段映射为固定的进度百分比。
var stageProgress = map[string]int{
	StageQueued:       0,
	StageProcessing:   5,
	StageReading:      10,
	StageChunking:     35,
	StageEmbedding:    55,
	StageEntities:     85,
	StageGraphWriting: 95,
	StageIndexed:      100,
	StageFailed:       0,
}

// StageProgress 返回某一阶段对应的进度百分比，未知阶段返回 0。
func StageProgress(stage string) int {
	return stageProgress[stage]
}

// ValidScope 判断给定字符串是否为合法的文档可见范围。
func ValidScope(scope string) bool {
	return scope == ScopeTenant || scope == ScopeWorkspace || scope == ScopeUser
}

// ValidStatus 判断给定字符串是否为合法的文档状态。
func ValidStatus(status string) bool {
	return status == StatusQueued || status == StatusProcessing ||
		status == StatusIndexed || status == StatusFailed
}

// Document 定义了 documents 表的 ORM 模型。
// 它记录了每个被摄取文档的元数据、归属范围和处理进度。
type Document struct {
	DocID       string `gorm:"type:varchar(64);primaryKey" json:"doc_id"`
	TenantID    string `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Scope       string `gorm:"type:varchar(16);not null;index" json:"scope"` // tenant / workspace / user
	WorkspaceID string `gorm:"type:varchar(128);index" json:"workspace_id"`
	PrincipalID string `gorm:"type:varchar(128);index" json:"principal_id"`

	Filename    string `gorm:"type:varchar(512);not null" json:"filename"`
	ContentType string `gorm:"type:varchar(128);not null" json:"content_type"`
	ObjectKey   string `gorm:"type:varchar(1024);not null" json:"-"`
	SizeBytes   int64  `gorm:"not null;default:0" json:"size_bytes"`

	Status       string `gorm:"type:varchar(32);not null;default:'queued';index" json:"status"`
	Stage        string `gorm:"type:varchar(64);not null;default:'queued'" json:"stage"`
	Progress     int    `gorm:"not null;default:0" json:"progress"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	ChunkCount  int `gorm:"not null;default:0" json:"chunk_count"`
	EntityCount int `gorm:"not null;default:0" json:"entity_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
