package chunker

import (
	"fmt"
	"strings"
)

// chunkerSystemPrompt 要求模型只返回一个合法的 chunk JSON 数组。
// 这段指令与解析侧的七个必备键严格对应，改动时必须两边同步。
const chunkerSystemPrompt = `You are "DynamicChunker", a model used inside a RAG ingestion pipeline.
Your ONLY job is to split a single document into variable-length, semantically coherent chunks.

You return ONLY a single valid JSON array of chunk objects. No extra text, no prose, no Markdown.

Return JSON like:
[
  {
    "chunk_id": 0,
    "section": "front_matter",
    "title": "Disclaimer & usage notice",
    "pages": [2],
    "text": "...exact document text for this chunk...",
    "summary": "1–3 sentences describing this chunk.",
    "why_this_chunk": "One short sentence explaining why this boundary makes sense."
  }
]

Rules:
- Top-level MUST be a JSON array.
- Each element MUST be an object with keys: chunk_id, section, title, pages, text, summary, why_this_chunk.
- chunk_id is an integer starting at 0 and increasing by 1 in document order.
- text MUST be copied from the document (no paraphrasing).
- Do NOT invent content.

Chunking goals:
- Respect headings, subheadings, lists, and repeated "cards"/templates.
- Prefer semantic completeness over rigid length.
- Target ~200–600 tokens per chunk when possible.
- Hard max ~800 tokens per chunk (split on sub-headings/paragraph breaks if needed).
- Never split inside a sentence or inside a list item/bullet.
`

// buildUserMessage 组装单个窗口的用户消息。
// overlapStart 之前的文本是上一窗口已经分块过的 overlap，只作为上下文给出。
func buildUserMessage(windowText string, overlapStart int, section string) string {
	context := windowText[:overlapStart]
	newText := windowText[overlapStart:]

	var lines []string

	if section != "" && section != "unknown" {
		lines = append(lines, fmt.Sprintf(`You are currently chunking section: "%s".`, section))
	}

	if context != "" {
		lines = append(lines, "The text before the marker '=== NEW WINDOW START ===' is overlap from the previous window. "+
			"It has ALREADY been chunked. Use it only as context and DO NOT create new chunks from it.")
	} else {
		lines = append(lines, "There is no overlap from the previous window. Everything below is new content to chunk.")
	}

	lines = append(lines, "\n=== DOCUMENT TEXT ===")
	if context != "" {
		lines = append(lines, context)
	}
	lines = append(lines, "\n=== NEW WINDOW START ===")
	lines = append(lines, newText)

	return strings.Join(lines, "\n")
}
