package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/internal/model"
)

// testLLM 返回预置的模型输出。
type testLLM struct {
	output string
	err    error
}

func (g *testLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return g.output, g.err
}

func TestEntityExtractorCleansAndDedupes(t *testing.T) {
	e := NewEntityExtractor(&testLLM{output: `{
		"entities": [
			{"type": "Person", "name": "张三"},
			{"type": "person", "name": "张三"},
			{"type": "Key Concept", "name": "  support   and resistance "},
			{"type": "company", "name": "A"},
			{"type": "", "name": "无类型"},
			"not an object"
		]
	}`}, 25)

	entities := e.Extract(context.Background(), "chunk 文本")

	require.Len(t, entities, 2)
	assert.Equal(t, model.Entity{Type: "person", Name: "张三"}, entities[0])
	assert.Equal(t, model.Entity{Type: "key_concept", Name: "support and resistance"}, entities[1])
}

func TestEntityExtractorAcceptsBareArray(t *testing.T) {
	e := NewEntityExtractor(&testLLM{output: `[{"type": "product", "name": "Widget 2.0"}]`}, 25)

	entities := e.Extract(context.Background(), "chunk 文本")

	require.Len(t, entities, 1)
	assert.Equal(t, "product", entities[0].Type)
	assert.Equal(t, "Widget 2.0", entities[0].Name)
}

func TestEntityExtractorCapsAtLimit(t *testing.T) {
	e := NewEntityExtractor(&testLLM{output: `{"entities": [
		{"type": "person", "name": "甲方代表"},
		{"type": "person", "name": "乙方代表"},
		{"type": "person", "name": "丙方代表"}
	]}`}, 2)

	entities := e.Extract(context.Background(), "chunk 文本")

	assert.Len(t, entities, 2)
}

func TestEntityExtractorFailuresReturnEmpty(t *testing.T) {
	failing := NewEntityExtractor(&testLLM{err: errors.New("上游超时")}, 25)
	assert.Empty(t, failing.Extract(context.Background(), "chunk 文本"))

	garbage := NewEntityExtractor(&testLLM{output: "模型没按格式返回"}, 25)
	assert.Empty(t, garbage.Extract(context.Background(), "chunk 文本"))
}

func TestCleanEntityType(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"Person", "person"},
		{"Key Concept", "key_concept"},
		{" Mixed-Case  Type ", "mixed_case_type"},
		{"C++ API!", "c_api"},
		{"中文类型", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cleanEntityType(tc.raw), "raw=%q", tc.raw)
	}
}

func TestCleanEntityNameCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "lots of space", cleanEntityName("  lots   of\tspace "))

	long := strings.Repeat("实", 120)
	got := cleanEntityName(long)
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, utf8.ValidString(got))
}

func TestEntityIDDeterministic(t *testing.T) {
	a := model.EntityID("tenant-a", "person", "张三")
	b := model.EntityID("tenant-a", "person", "张三")
	c := model.EntityID("tenant-b", "person", "张三")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// 实体名大小写不影响身份
	assert.Equal(t, a, model.EntityID("tenant-a", "person", "张三"))
	assert.Equal(t,
		model.EntityID("tenant-a", "company", "ACME"),
		model.EntityID("tenant-a", "company", "acme"))
}
