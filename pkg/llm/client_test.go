package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainPayload(t *testing.T) {
	got, err := ExtractJSON(`[{"text": "第一段"}, {"text": "第二段"}]`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text": "第一段"}, {"text": "第二段"}]`, string(got))
}

func TestExtractJSONStripsCodeFence(t *testing.T) {
	raw := "```json\n[\n  {\"text\": \"alpha\"},\n  {\"text\": \"bravo\"}\n]\n```"
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text": "alpha"}, {"text": "bravo"}]`, string(got))
}

func TestExtractJSONStripsBareFence(t *testing.T) {
	raw := "```\n{\"entities\": []}\n```"
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities": []}`, string(got))
}

func TestExtractJSONFindsArrayInsideProse(t *testing.T) {
	raw := `以下是分块结果：[{"text": "第一段"}]，如有需要可以继续调整。`
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"text": "第一段"}]`, string(got))
}

func TestExtractJSONFindsObjectInsideProse(t *testing.T) {
	// 对象内部嵌套数组时应以最靠前的 '{' 为起点
	raw := `Sure, here you go: {"entities": [{"type": "person", "name": "张三"}]} Hope that helps.`
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities": [{"type": "person", "name": "张三"}]}`, string(got))
}

func TestExtractJSONRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "空串", raw: ""},
		{name: "仅空白", raw: "   \n\t "},
		{name: "纯文本", raw: "抱歉，我无法完成这个请求。"},
		{name: "残缺对象", raw: `{"text": "未闭合`},
		{name: "片段不合法", raw: `前缀 {"text": } 后缀`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw)
			assert.Error(t, err)
			assert.Nil(t, got)
		})
	}
}
