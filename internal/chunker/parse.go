package chunker

import (
	"fmt"
	"strings"
)

// requiredChunkKeys 与系统提示词中约定的 chunk 对象字段一一对应。
var requiredChunkKeys = []string{"chunk_id", "section", "title", "pages", "text", "summary", "why_this_chunk"}

// validateChunk 严格校验单个候选 chunk: 七个键缺一不可，text 必须是非空字符串。
// 不合格的元素直接丢弃，不做修补。
func validateChunk(chunk map[string]interface{}) bool {
	for _, key := range requiredChunkKeys {
		if _, ok := chunk[key]; !ok {
			return false
		}
	}
	text, ok := chunk["text"].(string)
	return ok && text != ""
}

// filterOverlapChunks 丢掉完全落在 overlap 前缀里的候选 chunk，
// 它们在上一窗口已经产出过。在窗口里找不到原文的候选保留（fail-open），
// 宁可多收也不静默丢内容。
func filterOverlapChunks(chunks []map[string]interface{}, overlapStart int, windowText string) []map[string]interface{} {
	filtered := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		text := stringField(chunk, "text", "")
		startIdx := strings.Index(windowText, text)
		if startIdx == -1 {
			filtered = append(filtered, chunk)
			continue
		}
		if startIdx+len(text) > overlapStart {
			filtered = append(filtered, chunk)
		}
	}
	return filtered
}

// stringField 宽容地取字符串字段: 缺失、nil 或空串给回退值，
// 其他标量类型按原样格式化。
func stringField(chunk map[string]interface{}, key, fallback string) string {
	v, ok := chunk[key]
	if !ok || v == nil {
		return fallback
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return fallback
		}
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
