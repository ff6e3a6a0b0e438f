// Package model 定义了与数据库表对应的 Go 结构体。
package model

// PageText 表示从源文件中提取出的一页文本，页码从 1 开始。
// 对于纯文本类文件，"页" 是按段落边界拼合出来的合成页。
type PageText struct {
	Page int
	Text string
}

// Chunk 是动态分块器的产物，只存在于摄取过程中，不落关系库。
// 它的内容会被写入 Elasticsearch 和 Neo4j。
type Chunk struct {
	ChunkID      string
	DocID        string
	Text         string
	StartChar    int
	EndChar      int
	Pages        []int
	Section      string
	Title        string
	Summary      string
	WhyThisChunk string
}

// EsChunk 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunk struct {
	ChunkID      string    `json:"chunk_id"`
	DocID        string    `json:"doc_id"`
	TenantID     string    `json:"tenant_id"`
	Scope        string    `json:"scope"`
	WorkspaceID  string    `json:"workspace_id,omitempty"`
	PrincipalID  string    `json:"principal_id,omitempty"`
	Filename     string    `json:"filename"`
	Title        string    `json:"title"`
	Section      string    `json:"section"`
	Summary      string    `json:"summary"`
	Pages        []int     `json:"pages"`
	Content      string    `json:"content"`
	WhyThisChunk string    `json:"why_this_chunk,omitempty"`
	StartChar    int       `json:"start_char"`
	EndChar      int       `json:"end_char"`
	Embedding    []float32 `json:"embedding"`
	CreatedAt    string    `json:"created_at"`
}

// RetrievedChunk 定义了检索接口返回给调用方的单条结果。
// source 为 "es" 或 "graph"，表明该条目来自混合检索还是图扩展。
type RetrievedChunk struct {
	Source              string   `json:"source"`
	ESID                string   `json:"es_id,omitempty"`
	Score               *float64 `json:"score"`
	RerankScore         *float64 `json:"rerank_score,omitempty"`
	ChunkID             string   `json:"chunk_id"`
	Text                string   `json:"text"`
	Title               string   `json:"title"`
	Section             string   `json:"section"`
	Summary             string   `json:"summary"`
	Pages               []int    `json:"pages"`
	DocID               string   `json:"doc_id"`
	Scope               string   `json:"scope"`
	WorkspaceID         string   `json:"workspace_id,omitempty"`
	PrincipalID         string   `json:"principal_id,omitempty"`
	GraphSharedEntities *int64   `json:"graph_shared_entities,omitempty"`
	GraphEntities       []string `json:"graph_entities,omitempty"`
	AlsoFromGraph       bool     `json:"also_from_graph,omitempty"`
}
