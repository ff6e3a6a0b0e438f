// Package chunker 实现 LLM 驱动的动态分块。
// 相比固定长度切分，这里让生成模型按标题、列表和语义卡片决定边界，
// 服务端只负责窗口化、越界过滤和全文定位。
package chunker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"rag-service-go/internal/config"
	"rag-service-go/internal/model"
	"rag-service-go/pkg/llm"
	"rag-service-go/pkg/log"

	"github.com/google/uuid"
)

// ErrNoChunks 表示整个文档在全部窗口处理完后一个 chunk 都没有产出。
// 分块是摄取的硬性环节，零产出按文档级失败处理。
var ErrNoChunks = errors.New("文档未产出任何 chunk")

// Generator 发起一次分块生成调用。
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Chunker 把一个文档的页文本切成带元数据的 chunk 列表。
type Chunker struct {
	gen Generator
	cfg config.ChunkingConfig
}

// New 创建分块器。
func New(gen Generator, cfg config.ChunkingConfig) *Chunker {
	return &Chunker{gen: gen, cfg: cfg}
}

// ChunkPages 对一个文档执行完整的分块协议:
// 窗口化 -> 逐窗口生成 -> 严格校验 -> overlap 过滤 -> 全文定位。
// 单个窗口失败只损失该窗口; 所有窗口都没有产出时返回 ErrNoChunks。
func (c *Chunker) ChunkPages(ctx context.Context, docID string, pages []model.PageText) ([]model.Chunk, error) {
	windows := makeWindows(pages, c.cfg.WindowTokens, c.cfg.OverlapTokens)
	fullDocText := joinPages(pages)
	charOffset := 0
	var all []model.Chunk

	for i, win := range windows {
		userMessage := buildUserMessage(win.text, win.overlapStart, "unknown")
		log.Infof("[Chunker] 分块窗口 %d/%d, doc_id: %s, pages: %v, tokens: %d", i+1, len(windows), docID, win.pages, win.tokenCount)

		rawChunks := c.generate(ctx, userMessage)
		if len(rawChunks) == 0 {
			log.Warnf("[Chunker] 窗口 %d 未产出任何 chunk, doc_id: %s", i+1, docID)
			continue
		}

		valid := make([]map[string]interface{}, 0, len(rawChunks))
		for _, raw := range rawChunks {
			if validateChunk(raw) {
				valid = append(valid, raw)
			}
		}
		filtered := filterOverlapChunks(valid, win.overlapStart, win.text)

		for _, chunkDict := range filtered {
			chunkText := stringField(chunkDict, "text", "")

			// 定位游标单调前进，绝不回头搜索已定位过的区间
			startChar := indexFrom(fullDocText, chunkText, charOffset)
			if startChar == -1 {
				// 模型复制的文本与原文不完全一致时退回当前游标
				startChar = charOffset
			}
			endChar := startChar + len(chunkText)
			charOffset = endChar

			all = append(all, model.Chunk{
				ChunkID:      uuid.New().String(),
				DocID:        docID,
				Text:         chunkText,
				StartChar:    startChar,
				EndChar:      endChar,
				Pages:        calculateChunkPages(startChar, endChar, pages),
				Section:      stringField(chunkDict, "section", "unknown"),
				Title:        stringField(chunkDict, "title", "Untitled"),
				Summary:      stringField(chunkDict, "summary", ""),
				WhyThisChunk: stringField(chunkDict, "why_this_chunk", ""),
			})
		}
	}

	log.Infof("[Chunker] 动态分块完成, doc_id: %s, chunks: %d, windows: %d", docID, len(all), len(windows))
	if len(all) == 0 {
		return nil, ErrNoChunks
	}
	return all, nil
}

// generate 调用生成服务并把输出解析成 chunk 字典数组。
// 调用失败、JSON 不合法或顶层不是数组都只记 warn，该窗口产出为空。
func (c *Chunker) generate(ctx context.Context, userMessage string) []map[string]interface{} {
	rawText, err := c.gen.Complete(ctx, chunkerSystemPrompt, userMessage, c.cfg.MaxOutputTokens)
	if err != nil {
		log.Warnf("[Chunker] 分块生成调用失败: %v", err)
		return nil
	}

	jsonBytes, err := llm.ExtractJSON(rawText)
	if err != nil {
		log.Warnf("[Chunker] 生成结果中提取 JSON 失败: %v", err)
		return nil
	}

	var arr []map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &arr); err != nil {
		log.Warnf("[Chunker] 生成结果顶层不是 chunk 数组: %v", err)
		return nil
	}
	return arr
}

// indexFrom 从 offset 起在 haystack 中查找 needle，返回绝对偏移。
func indexFrom(haystack, needle string, offset int) int {
	if offset > len(haystack) {
		return -1
	}
	idx := strings.Index(haystack[offset:], needle)
	if idx == -1 {
		return -1
	}
	return offset + idx
}

// calculateChunkPages 用累计页偏移求 chunk 字符区间覆盖的页码。
// 每页的区间额外带上 2 字节的 "\n\n" 连接符。
func calculateChunkPages(startChar, endChar int, pages []model.PageText) []int {
	currentOffset := 0
	var chunkPages []int
	for _, page := range pages {
		pageStart := currentOffset
		pageEnd := pageStart + len(page.Text) + 2
		if startChar < pageEnd && endChar > pageStart {
			chunkPages = append(chunkPages, page.Page)
		}
		currentOffset = pageEnd
	}
	return chunkPages
}
