package service

import (
	"context"
	"fmt"
	"sort"

	"rag-service-go/internal/config"
	"rag-service-go/internal/model"
	"rag-service-go/pkg/embedding"
	"rag-service-go/pkg/es"
	"rag-service-go/pkg/graph"
	"rag-service-go/pkg/log"
	"rag-service-go/pkg/rerank"
)

// RetrieveInput 封装一次检索请求及请求方的可见范围。
// Limit、Alpha 与 UseGraph 已由调用方校验并填好默认值。
type RetrieveInput struct {
	TenantID    string
	WorkspaceID string
	PrincipalID string
	Query       string
	Limit       int
	Alpha       float64
	// UseGraph 为 false 时本次检索跳过图扩展，只返回向量召回结果。
	UseGraph bool
}

// GraphDebug 描述图扩展在本次检索中的执行情况，供调用方排查。
type GraphDebug struct {
	Enabled       bool     `json:"enabled"`
	SeedChunkIDs  []string `json:"seed_chunk_ids"`
	ExpandedCount int      `json:"expanded_count"`
	Error         string   `json:"error,omitempty"`
}

// RetrieveResult 是检索接口的响应体。
type RetrieveResult struct {
	Query   string                 `json:"query"`
	Count   int                    `json:"count"`
	Results []model.RetrievedChunk `json:"results"`
	Graph   GraphDebug             `json:"graph"`
}

// GraphExpander 从种子分块出发在图谱上扩展候选。
type GraphExpander interface {
	Expand(ctx context.Context, p graph.ExpandParams) ([]graph.ExpandedChunk, error)
}

// RetrievalService 接口定义了混合检索相关的业务操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, in RetrieveInput) (*RetrieveResult, error)
}

type retrievalService struct {
	embedder     embedding.Client
	reranker     *rerank.Scorer
	expander     GraphExpander // nil 表示图谱不可用
	retrievalCfg config.RetrievalConfig
	indexName    string
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	embedder embedding.Client,
	reranker *rerank.Scorer,
	expander GraphExpander,
	retrievalCfg config.RetrievalConfig,
	indexName string,
) RetrievalService {
	return &retrievalService{
		embedder:     embedder,
		reranker:     reranker,
		expander:     expander,
		retrievalCfg: retrievalCfg,
		indexName:    indexName,
	}
}

// Retrieve 执行混合检索：
// 查询向量化后做 BM25 + kNN 过采样召回，经重排序选出种子分块做图扩展，
// 两路结果按 chunk 去重合并后再整体重排序，截断到请求的条数。
func (s *retrievalService) Retrieve(ctx context.Context, in RetrieveInput) (*RetrieveResult, error) {
	log.Infof("[Retrieval] 开始检索, Tenant: %s, Query: %s, Limit: %d, Alpha: %.2f",
		in.TenantID, in.Query, in.Limit, in.Alpha)

	// 1. 查询向量化
	queryVector, err := s.embedder.CreateEmbedding(ctx, in.Query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	// 2. 过采样召回，给重排序留余量
	searchLimit := in.Limit * s.retrievalCfg.OversampleFactor
	if searchLimit < in.Limit {
		searchLimit = in.Limit
	}
	if searchLimit > s.retrievalCfg.MaxLimit {
		searchLimit = s.retrievalCfg.MaxLimit
	}
	hits, err := es.HybridSearch(ctx, s.indexName, es.HybridParams{
		Query:       in.Query,
		QueryVector: queryVector,
		Limit:       searchLimit,
		Alpha:       in.Alpha,
		TenantID:    in.TenantID,
		WorkspaceID: in.WorkspaceID,
		PrincipalID: in.PrincipalID,
	})
	if err != nil {
		return nil, fmt.Errorf("混合检索失败: %w", err)
	}

	candidates := make([]model.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		src := hit.Source
		candidates = append(candidates, model.RetrievedChunk{
			Source:      "es",
			ESID:        hit.ID,
			Score:       hit.Score,
			ChunkID:     src.ChunkID,
			Text:        src.Content,
			Title:       src.Title,
			Section:     src.Section,
			Summary:     src.Summary,
			Pages:       src.Pages,
			DocID:       src.DocID,
			Scope:       src.Scope,
			WorkspaceID: src.WorkspaceID,
			PrincipalID: src.PrincipalID,
		})
	}

	// 3. 图扩展：重排候选选种子，失败时只记录，不影响主链路
	debug := GraphDebug{Enabled: in.UseGraph && s.retrievalCfg.GraphExpansionEnabled && s.expander != nil}
	var expanded []model.RetrievedChunk
	if debug.Enabled {
		seedRanked, err := s.rerankCandidates(ctx, in.Query, candidates)
		if err != nil {
			return nil, err
		}
		debug.SeedChunkIDs = selectSeeds(seedRanked, s.retrievalCfg.GraphSeedMinScore, s.retrievalCfg.GraphSeedLimit)

		rows, err := s.expander.Expand(ctx, graph.ExpandParams{
			TenantID:     in.TenantID,
			WorkspaceID:  in.WorkspaceID,
			PrincipalID:  in.PrincipalID,
			SeedChunkIDs: debug.SeedChunkIDs,
			Limit:        s.retrievalCfg.GraphExpansionLimit,
			EntityLimit:  s.retrievalCfg.GraphEntityLimit,
		})
		if err != nil {
			log.Warnf("[Retrieval] 图扩展失败, 本次检索退化为纯向量结果: %v", err)
			debug.Error = err.Error()
		} else {
			debug.ExpandedCount = len(rows)
			expanded = make([]model.RetrievedChunk, 0, len(rows))
			for _, row := range rows {
				shared := row.GraphSharedEntities
				expanded = append(expanded, model.RetrievedChunk{
					Source:              "graph",
					ChunkID:             row.ChunkID,
					Text:                row.Text,
					Title:               row.Title,
					Section:             row.Section,
					Summary:             row.Summary,
					Pages:               row.Pages,
					DocID:               row.DocID,
					Scope:               row.Scope,
					WorkspaceID:         row.WorkspaceID,
					PrincipalID:         row.PrincipalID,
					GraphSharedEntities: &shared,
					GraphEntities:       row.GraphEntities,
				})
			}
		}
	}

	// 4. 去重合并、整体重排、截断
	merged := mergeCandidates(candidates, expanded)
	ranked, err := s.rerankCandidates(ctx, in.Query, merged)
	if err != nil {
		return nil, err
	}
	if len(ranked) > in.Limit {
		ranked = ranked[:in.Limit]
	}
	if ranked == nil {
		ranked = []model.RetrievedChunk{}
	}

	log.Infof("[Retrieval] 检索完成, Tenant: %s, 候选: %d, 图扩展: %d, 返回: %d",
		in.TenantID, len(candidates), debug.ExpandedCount, len(ranked))
	return &RetrieveResult{
		Query:   in.Query,
		Count:   len(ranked),
		Results: ranked,
		Graph:   debug,
	}, nil
}

// rerankCandidates 调用重排序服务为候选打分并按分数稳定降序排列，
// 重排序未启用或候选为空时原样返回。
func (s *retrievalService) rerankCandidates(ctx context.Context, query string, candidates []model.RetrievedChunk) ([]model.RetrievedChunk, error) {
	if s.reranker == nil || !s.reranker.Enabled() || len(candidates) == 0 {
		return candidates, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	scores, err := s.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("重排序失败: %w", err)
	}

	out := make([]model.RetrievedChunk, len(candidates))
	copy(out, candidates)
	for i := range out {
		sc := scores[i]
		out[i].RerankScore = &sc
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	return out, nil
}

// selectSeeds 从重排后的候选中挑选图扩展种子：
// 跳过没有 chunk_id 的条目，遇到第一个低于阈值的分数即停止，最多取 seedLimit 个。
func selectSeeds(ranked []model.RetrievedChunk, minScore float64, seedLimit int) []string {
	var seeds []string
	for _, c := range ranked {
		if c.ChunkID == "" {
			continue
		}
		if c.RerankScore != nil && *c.RerankScore < minScore {
			break
		}
		seeds = append(seeds, c.ChunkID)
		if len(seeds) >= seedLimit {
			break
		}
	}
	return seeds
}

// mergeCandidates 按 chunk 去重合并向量检索与图扩展两路结果。
// 先到的条目占位，图扩展命中已有条目时只补充图谱字段并打上 also_from_graph 标记。
func mergeCandidates(candidates, expanded []model.RetrievedChunk) []model.RetrievedChunk {
	merged := make([]model.RetrievedChunk, 0, len(candidates)+len(expanded))
	index := make(map[string]int, len(candidates))

	for _, c := range candidates {
		key := c.ChunkID
		if key == "" {
			key = c.ESID
		}
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			merged[i] = c
			continue
		}
		index[key] = len(merged)
		merged = append(merged, c)
	}

	for _, g := range expanded {
		key := g.ChunkID
		if key == "" {
			key = g.ESID
		}
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			merged[i].AlsoFromGraph = true
			if g.GraphSharedEntities != nil {
				merged[i].GraphSharedEntities = g.GraphSharedEntities
			}
			if g.GraphEntities != nil {
				merged[i].GraphEntities = g.GraphEntities
			}
			continue
		}
		index[key] = len(merged)
		merged = append(merged, g)
	}
	return merged
}
