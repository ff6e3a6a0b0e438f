// Package rerank 封装对重排序模型服务的调用。
// 服务关闭时检索侧直接透传候选顺序，不做二次排序。
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"rag-service-go/internal/config"
	"rag-service-go/pkg/log"
)

// Scorer 对 (query, text) 对打相关性分。
// 客户端在首次调用时惰性初始化，未启用时服务进程不产生任何网络连接。
type Scorer struct {
	cfg    config.RerankConfig
	once   sync.Once
	client *http.Client
}

// NewScorer 创建重排序打分器。
func NewScorer(cfg config.RerankConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Enabled 返回重排序是否启用。
func (s *Scorer) Enabled() bool {
	return s.cfg.Enabled
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (s *Scorer) httpClient() *http.Client {
	s.once.Do(func() {
		timeout := time.Duration(s.cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		s.client = &http.Client{Timeout: timeout}
		log.Infof("[Rerank] 初始化重排序客户端, base_url: %s", s.cfg.BaseURL)
	})
	return s.client
}

// Score 返回与 texts 等长的分数切片，下标与输入对齐。
// 服务按 index 字段回填，响应中缺失的下标保持 0 分。
func (s *Scorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if !s.cfg.Enabled {
		return nil, fmt.Errorf("重排序服务未启用")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	reqBytes, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("序列化重排序请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.BaseURL+"/rerank", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建重排序请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		log.Errorf("[Rerank] 调用重排序服务失败, error: %v", err)
		return nil, fmt.Errorf("调用重排序服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Errorf("[Rerank] 重排序服务返回非 200 状态码: %s, body: %s", resp.Status, string(body))
		return nil, fmt.Errorf("重排序服务返回非 200 状态码: %s", resp.Status)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("解析重排序响应失败: %w", err)
	}

	scores := make([]float64, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			log.Warnf("[Rerank] 响应中出现越界下标 %d, 已忽略", r.Index)
			continue
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
