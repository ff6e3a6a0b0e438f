package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"rag-service-go/internal/model"
	"rag-service-go/pkg/llm"
	"rag-service-go/pkg/log"
)

// entitySystemPrompt 约束模型只抽取文本中明确出现的实体，并限制数量。
const entitySystemPrompt = `You are EntityExtractor, used inside a RAG ingestion pipeline.

Extract entities and key concepts that are explicitly mentioned in the provided text chunk.

Output MUST be valid JSON and MUST match this schema:
{
  "entities": [
    {"type": "company", "name": "Acme Corp"},
    {"type": "person", "name": "Jane Doe"},
    {"type": "product", "name": "Widget 2.0"},
    {"type": "concept", "name": "support and resistance"}
  ]
}

Rules:
- Return only entities present in the text (no guesses).
- Use short, lowercase ` + "`type`" + ` strings (snake_case).
- Prefer fewer, higher-signal entities over exhaustive lists.
- Limit to at most 25 entities.
`

const entityMaxTokens = 1200

var (
	typeSeparatorRe = regexp.MustCompile(`[\s\-]+`)
	typeInvalidRe   = regexp.MustCompile(`[^a-z0-9_]`)
)

// EntityExtractor 对单个 chunk 文本做实体抽取。
type EntityExtractor struct {
	gen         llm.Client
	maxEntities int
}

// NewEntityExtractor 创建实体抽取器。maxEntities 不合法时回退为 25。
func NewEntityExtractor(gen llm.Client, maxEntities int) *EntityExtractor {
	if maxEntities <= 0 {
		maxEntities = 25
	}
	return &EntityExtractor{gen: gen, maxEntities: maxEntities}
}

// Extract 返回清洗、去重并截断到上限的实体列表。
// 任何失败只记 warn 并返回空列表，单个 chunk 的抽取失败不影响文档摄取。
func (e *EntityExtractor) Extract(ctx context.Context, text string) []model.Entity {
	userPrompt := fmt.Sprintf("Extract entities from this text chunk:\n\n%s\n\nReturn JSON with an 'entities' array.", text)

	rawText, err := e.gen.Complete(ctx, entitySystemPrompt, userPrompt, entityMaxTokens)
	if err != nil {
		log.Warnf("[EntityExtractor] 实体抽取调用失败: %v", err)
		return nil
	}

	jsonBytes, err := llm.ExtractJSON(rawText)
	if err != nil {
		log.Warnf("[EntityExtractor] 实体抽取结果中提取 JSON 失败: %v", err)
		return nil
	}

	// 顶层宽容: 既接受 {"entities": [...]} 也接受裸数组
	var top interface{}
	if err := json.Unmarshal(jsonBytes, &top); err != nil {
		log.Warnf("[EntityExtractor] 实体抽取结果解析失败: %v", err)
		return nil
	}

	var rawEntities []interface{}
	switch t := top.(type) {
	case map[string]interface{}:
		if list, ok := t["entities"].([]interface{}); ok {
			rawEntities = list
		}
	case []interface{}:
		rawEntities = t
	}

	out := make([]model.Entity, 0, len(rawEntities))
	seen := make(map[string]struct{}, len(rawEntities))
	for _, item := range rawEntities {
		if len(out) >= e.maxEntities {
			break
		}
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entityType := cleanEntityType(anyToString(m["type"]))
		name := cleanEntityName(anyToString(m["name"]))
		if entityType == "" || utf8.RuneCountInString(name) < 2 {
			continue
		}
		key := entityType + "\x00" + strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, model.Entity{Type: entityType, Name: name})
	}
	return out
}

// cleanEntityType 归一化实体类型: 小写 snake_case，只保留 [a-z0-9_]，上限 48 字节。
func cleanEntityType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = typeSeparatorRe.ReplaceAllString(value, "_")
	value = typeInvalidRe.ReplaceAllString(value, "")
	return truncateRunes(value, 48)
}

// cleanEntityName 压缩连续空白，上限 200 字节。
func cleanEntityName(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	return truncateRunes(value, 200)
}

// truncateRunes 按字节截断但保证切口不落在多字节字符中间。
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func anyToString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
