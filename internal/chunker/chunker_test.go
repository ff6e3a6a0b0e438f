package chunker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/internal/config"
	"rag-service-go/internal/model"
)

// testGenerator 按调用顺序返回预置的输出。
type testGenerator struct {
	outputs []string
	err     error
	calls   int
}

func (g *testGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.outputs) == 0 {
		return "[]", nil
	}
	out := g.outputs[0]
	if len(g.outputs) > 1 {
		g.outputs = g.outputs[1:]
	}
	return out, nil
}

func testChunkingConfig() config.ChunkingConfig {
	return config.ChunkingConfig{WindowTokens: 16000, OverlapTokens: 1000, MaxOutputTokens: 20000}
}

func TestChunkPagesHappyPath(t *testing.T) {
	gen := &testGenerator{outputs: []string{`[
		{"chunk_id": 0, "section": "intro", "title": "Intro", "pages": [1],
		 "text": "Intro paragraph.", "summary": "s1", "why_this_chunk": "w1"},
		{"chunk_id": 1, "section": "body", "title": "Body", "pages": [1],
		 "text": "Body paragraph with more words.", "summary": "s2", "why_this_chunk": "w2"}
	]`}}
	c := New(gen, testChunkingConfig())
	pages := []model.PageText{{Page: 1, Text: "Intro paragraph.\n\nBody paragraph with more words."}}

	chunks, err := c.ChunkPages(context.Background(), "doc-1", pages)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, gen.calls)

	for _, ch := range chunks {
		assert.Equal(t, "doc-1", ch.DocID)
		_, perr := uuid.Parse(ch.ChunkID)
		assert.NoError(t, perr)
		assert.Equal(t, []int{1}, ch.Pages)
	}

	assert.Equal(t, "Intro paragraph.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 16, chunks[0].EndChar)
	assert.Equal(t, "intro", chunks[0].Section)
	assert.Equal(t, "Intro", chunks[0].Title)
	assert.Equal(t, "s1", chunks[0].Summary)
	assert.Equal(t, "w1", chunks[0].WhyThisChunk)

	assert.Equal(t, 18, chunks[1].StartChar)
	assert.Equal(t, 18+len("Body paragraph with more words."), chunks[1].EndChar)
}

func TestChunkPagesDropsInvalidElements(t *testing.T) {
	gen := &testGenerator{outputs: []string{`[
		{"chunk_id": 0, "section": "s", "title": "t", "pages": [1],
		 "text": "Alpha.", "summary": "", "why_this_chunk": ""},
		{"text": "missing the other keys"},
		{"chunk_id": 2, "section": "s", "title": "t", "pages": [1],
		 "text": "", "summary": "", "why_this_chunk": ""}
	]`}}
	c := New(gen, testChunkingConfig())
	pages := []model.PageText{{Page: 1, Text: "Alpha. Bravo."}}

	chunks, err := c.ChunkPages(context.Background(), "doc-1", pages)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Alpha.", chunks[0].Text)
}

func TestChunkPagesRepeatedTextAdvancesCursor(t *testing.T) {
	gen := &testGenerator{outputs: []string{`[
		{"chunk_id": 0, "section": "s", "title": "t", "pages": [1],
		 "text": "alpha beta", "summary": "", "why_this_chunk": ""},
		{"chunk_id": 1, "section": "s", "title": "t", "pages": [1],
		 "text": "alpha beta", "summary": "", "why_this_chunk": ""}
	]`}}
	c := New(gen, testChunkingConfig())
	pages := []model.PageText{{Page: 1, Text: "alpha beta\n\nalpha beta"}}

	chunks, err := c.ChunkPages(context.Background(), "doc-1", pages)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 10, chunks[0].EndChar)
	assert.Equal(t, 12, chunks[1].StartChar)
	assert.Equal(t, 22, chunks[1].EndChar)
}

func TestChunkPagesFallsBackToCursorWhenTextNotFound(t *testing.T) {
	gen := &testGenerator{outputs: []string{`[
		{"chunk_id": 0, "section": "s", "title": "t", "pages": [1],
		 "text": "paraphrased output", "summary": "", "why_this_chunk": ""}
	]`}}
	c := New(gen, testChunkingConfig())
	pages := []model.PageText{{Page: 1, Text: "Hello world content here."}}

	chunks, err := c.ChunkPages(context.Background(), "doc-1", pages)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len("paraphrased output"), chunks[0].EndChar)
}

func TestChunkPagesGeneratorErrorYieldsErrNoChunks(t *testing.T) {
	gen := &testGenerator{err: errors.New("上游超时")}
	c := New(gen, testChunkingConfig())
	pages := []model.PageText{{Page: 1, Text: "some content"}}

	chunks, err := c.ChunkPages(context.Background(), "doc-1", pages)

	assert.ErrorIs(t, err, ErrNoChunks)
	assert.Nil(t, chunks)
}

func TestChunkPagesGarbageOutputYieldsErrNoChunks(t *testing.T) {
	for _, output := range []string{"这不是 JSON", `{"not": "an array"}`} {
		gen := &testGenerator{outputs: []string{output}}
		c := New(gen, testChunkingConfig())
		pages := []model.PageText{{Page: 1, Text: "some content"}}

		chunks, err := c.ChunkPages(context.Background(), "doc-1", pages)

		assert.ErrorIs(t, err, ErrNoChunks)
		assert.Nil(t, chunks)
	}
}

func TestValidateChunk(t *testing.T) {
	valid := map[string]interface{}{
		"chunk_id": 0, "section": "s", "title": "t", "pages": []int{1},
		"text": "body", "summary": "", "why_this_chunk": "",
	}
	assert.True(t, validateChunk(valid))

	missing := map[string]interface{}{"text": "body"}
	assert.False(t, validateChunk(missing))

	emptyText := map[string]interface{}{
		"chunk_id": 0, "section": "s", "title": "t", "pages": []int{1},
		"text": "", "summary": "", "why_this_chunk": "",
	}
	assert.False(t, validateChunk(emptyText))

	nonStringText := map[string]interface{}{
		"chunk_id": 0, "section": "s", "title": "t", "pages": []int{1},
		"text": 42, "summary": "", "why_this_chunk": "",
	}
	assert.False(t, validateChunk(nonStringText))
}

func TestFilterOverlapChunks(t *testing.T) {
	windowText := "OVERLAP PREFIX here\n\nnew window content"
	overlapStart := len("OVERLAP PREFIX here")

	inOverlap := map[string]interface{}{"text": "OVERLAP PREFIX"}
	crossing := map[string]interface{}{"text": "here\n\nnew window"}
	fresh := map[string]interface{}{"text": "new window content"}
	notFound := map[string]interface{}{"text": "模型改写过的文本"}

	got := filterOverlapChunks(
		[]map[string]interface{}{inOverlap, crossing, fresh, notFound},
		overlapStart, windowText)

	require.Len(t, got, 3)
	assert.Equal(t, crossing, got[0])
	assert.Equal(t, fresh, got[1])
	assert.Equal(t, notFound, got[2])
}

func TestStringField(t *testing.T) {
	chunk := map[string]interface{}{
		"title":  "实际标题",
		"empty":  "",
		"isNil":  nil,
		"number": float64(7),
	}

	assert.Equal(t, "实际标题", stringField(chunk, "title", "fb"))
	assert.Equal(t, "fb", stringField(chunk, "empty", "fb"))
	assert.Equal(t, "fb", stringField(chunk, "isNil", "fb"))
	assert.Equal(t, "fb", stringField(chunk, "absent", "fb"))
	assert.Equal(t, "7", stringField(chunk, "number", "fb"))
}

func TestBuildUserMessageNoOverlap(t *testing.T) {
	msg := buildUserMessage("fresh text", 0, "unknown")

	assert.Contains(t, msg, "There is no overlap from the previous window.")
	assert.Contains(t, msg, "=== NEW WINDOW START ===")
	assert.Contains(t, msg, "fresh text")
	assert.NotContains(t, msg, "currently chunking section")
}

func TestBuildUserMessageWithOverlap(t *testing.T) {
	windowText := "old tail new body"
	msg := buildUserMessage(windowText, len("old tail "), "pricing")

	assert.Contains(t, msg, `chunking section: "pricing"`)
	assert.Contains(t, msg, "ALREADY been chunked")

	marker := "=== NEW WINDOW START ==="
	markerPos := indexFrom(msg, marker, 0)
	require.NotEqual(t, -1, markerPos)
	assert.Contains(t, msg[:markerPos], "old tail")
	assert.Contains(t, msg[markerPos:], "new body")
}
