// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Entity 表示从分块文本中抽取出的一个实体。
type Entity struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// EntityID 根据租户、类型和小写实体名计算确定性的实体标识，
// 使同一实体在不同分块、不同文档中的多次出现收敛到同一个图节点。
func EntityID(tenantID, entityType, name string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s", tenantID, entityType, strings.ToLower(name))))
	return hex.EncodeToString(h[:])
}

// EntitySummary 定义了图谱实体列表接口返回的单条结果。
type EntitySummary struct {
	EntityID      string `json:"entity_id"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	ChunkMentions int64  `json:"chunk_mentions"`
}

// EntityChunk 定义了"提及某实体的分块"查询返回的单条结果。
type EntityChunk struct {
	ChunkID string `json:"chunk_id"`
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Section string `json:"section"`
	Summary string `json:"summary"`
	Pages   []int  `json:"pages"`
	Text    string `json:"text"`
}
