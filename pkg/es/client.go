// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rag-service-go/internal/config"
	"rag-service-go/internal/model"
	"rag-service-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端，并确保 chunk 索引存在。
// dims 为向量维度，需与 Embedding 模型输出一致。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 多租户过滤字段全部用 keyword，content 走 BM25，embedding 用 cosine 相似度
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"doc_id": { "type": "keyword" },
				"tenant_id": { "type": "keyword" },
				"scope": { "type": "keyword" },
				"workspace_id": { "type": "keyword" },
				"principal_id": { "type": "keyword" },
				"filename": { "type": "keyword" },
				"title": { "type": "text" },
				"section": { "type": "keyword" },
				"summary": { "type": "text" },
				"content": { "type": "text" },
				"why_this_chunk": { "type": "text", "index": false },
				"pages": { "type": "integer" },
				"start_char": { "type": "integer" },
				"end_char": { "type": "integer" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"created_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// BulkInsertChunks 批量写入 chunk 文档，以 chunk_id 作为 _id 保证幂等。
// 任意条目失败即返回错误，由调用方将文档标记为 failed。
func BulkInsertChunks(ctx context.Context, indexName string, chunks []model.EsChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, chunk := range chunks {
		meta, err := json.Marshal(map[string]interface{}{
			"index": map[string]interface{}{"_index": indexName, "_id": chunk.ChunkID},
		})
		if err != nil {
			return fmt.Errorf("序列化 bulk 操作行失败: %w", err)
		}
		docBytes, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("序列化 chunk 文档失败: %w", err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := ESClient.Bulk(
		bytes.NewReader(buf.Bytes()),
		ESClient.Bulk.WithContext(ctx),
		ESClient.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk 写入请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("bulk 写入 Elasticsearch 出错: %s", res.String())
		return errors.New("bulk 写入时 Elasticsearch 返回错误")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		failed := 0
		reason := ""
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Status >= 300 {
					failed++
					if reason == "" {
						reason = op.Error.Reason
					}
				}
			}
		}
		log.Errorf("bulk 写入部分失败, failed: %d, first_reason: %s", failed, reason)
		return fmt.Errorf("bulk 写入有 %d 条失败: %s", failed, reason)
	}
	return nil
}

// BuildScopeFilter 构建多租户可见性过滤子句。
// 规则: 租户级 chunk 对同租户所有调用方可见; workspace 级要求调用方携带相同
// workspace_id; user 级还要求相同 principal_id。
func BuildScopeFilter(tenantID, workspaceID, principalID string) map[string]interface{} {
	should := []map[string]interface{}{
		{"term": map[string]interface{}{"scope": model.ScopeTenant}},
	}
	if workspaceID != "" {
		should = append(should, map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"scope": model.ScopeWorkspace}},
					{"term": map[string]interface{}{"workspace_id": workspaceID}},
				},
			},
		})
		if principalID != "" {
			should = append(should, map[string]interface{}{
				"bool": map[string]interface{}{
					"must": []map[string]interface{}{
						{"term": map[string]interface{}{"scope": model.ScopeUser}},
						{"term": map[string]interface{}{"workspace_id": workspaceID}},
						{"term": map[string]interface{}{"principal_id": principalID}},
					},
				},
			})
		}
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must": []map[string]interface{}{
				{"term": map[string]interface{}{"tenant_id": tenantID}},
			},
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

// HybridParams 为一次混合检索的全部输入。
type HybridParams struct {
	Query       string
	QueryVector []float32
	Limit       int
	Alpha       float64
	TenantID    string
	WorkspaceID string
	PrincipalID string
}

// Hit 是混合检索的单条命中。Score 为空表示 ES 未返回评分。
type Hit struct {
	ID     string
	Score  *float64
	Source model.EsChunk
}

// HybridSearch 执行 BM25 + kNN 混合检索。
// alpha 控制向量侧权重: knn 子句 boost=alpha, match 子句 boost=1-alpha,
// 两路命中的分数由 ES 相加。
func HybridSearch(ctx context.Context, indexName string, p HybridParams) ([]Hit, error) {
	scopeFilter := BuildScopeFilter(p.TenantID, p.WorkspaceID, p.PrincipalID)

	numCandidates := p.Limit * 10
	if numCandidates < 100 {
		numCandidates = 100
	}

	esQuery := map[string]interface{}{
		"size": p.Limit,
		"_source": map[string]interface{}{
			"excludes": []string{"embedding"},
		},
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   p.QueryVector,
			"k":              p.Limit,
			"num_candidates": numCandidates,
			"filter":         scopeFilter,
			"boost":          p.Alpha,
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"content": map[string]interface{}{
							"query": p.Query,
							"boost": 1 - p.Alpha,
						},
					},
				},
				"filter": scopeFilter,
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化混合检索查询失败: %w", err)
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch 检索请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("Elasticsearch 检索返回错误: %s", res.String())
		return nil, fmt.Errorf("elasticsearch 检索返回错误: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string        `json:"_id"`
				Score  *float64      `json:"_score"`
				Source model.EsChunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 检索响应失败: %w", err)
	}

	hits := make([]Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return hits, nil
}

// Ping 探测 Elasticsearch 可用性，供健康检查使用。
func Ping(ctx context.Context) error {
	if ESClient == nil {
		return errors.New("elasticsearch 客户端未初始化")
	}
	res, err := ESClient.Ping(ESClient.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping 返回错误: %s", res.Status())
	}
	return nil
}
