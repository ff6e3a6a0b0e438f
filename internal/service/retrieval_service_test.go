package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/internal/model"
)

func scoreOf(v float64) *float64 { return &v }

func TestSelectSeedsSkipsMissingChunkID(t *testing.T) {
	ranked := []model.RetrievedChunk{
		{ChunkID: "", RerankScore: scoreOf(0.9)},
		{ChunkID: "c1", RerankScore: scoreOf(0.8)},
		{ChunkID: "c2", RerankScore: scoreOf(0.7)},
	}

	seeds := selectSeeds(ranked, 0.2, 8)

	assert.Equal(t, []string{"c1", "c2"}, seeds)
}

func TestSelectSeedsStopsBelowThreshold(t *testing.T) {
	ranked := []model.RetrievedChunk{
		{ChunkID: "c1", RerankScore: scoreOf(0.9)},
		{ChunkID: "c2", RerankScore: scoreOf(0.1)},
		{ChunkID: "c3", RerankScore: scoreOf(0.95)},
	}

	// 候选已按分数降序，第一个低于阈值的条目之后不再取
	seeds := selectSeeds(ranked, 0.2, 8)

	assert.Equal(t, []string{"c1"}, seeds)
}

func TestSelectSeedsCapsAtLimit(t *testing.T) {
	ranked := []model.RetrievedChunk{
		{ChunkID: "c1", RerankScore: scoreOf(0.9)},
		{ChunkID: "c2", RerankScore: scoreOf(0.8)},
		{ChunkID: "c3", RerankScore: scoreOf(0.7)},
	}

	seeds := selectSeeds(ranked, 0.2, 2)

	assert.Equal(t, []string{"c1", "c2"}, seeds)
}

func TestSelectSeedsWithoutScores(t *testing.T) {
	// 重排序未启用时候选没有分数，全部有 chunk_id 的条目按序入选
	ranked := []model.RetrievedChunk{
		{ChunkID: "c1"},
		{ChunkID: "c2"},
	}

	seeds := selectSeeds(ranked, 0.2, 8)

	assert.Equal(t, []string{"c1", "c2"}, seeds)
}

func TestMergeCandidatesDeduplicatesES(t *testing.T) {
	older := model.RetrievedChunk{Source: "es", ChunkID: "c1", Text: "旧版本"}
	newer := model.RetrievedChunk{Source: "es", ChunkID: "c1", Text: "新版本"}

	merged := mergeCandidates([]model.RetrievedChunk{older, newer}, nil)

	require.Len(t, merged, 1)
	assert.Equal(t, "新版本", merged[0].Text)
}

func TestMergeCandidatesGraphEnrichesExisting(t *testing.T) {
	shared := int64(3)
	es := model.RetrievedChunk{Source: "es", ChunkID: "c1", Text: "正文", Score: scoreOf(1.5)}
	g := model.RetrievedChunk{
		Source:              "graph",
		ChunkID:             "c1",
		GraphSharedEntities: &shared,
		GraphEntities:       []string{"张三", "订单系统"},
	}

	merged := mergeCandidates([]model.RetrievedChunk{es}, []model.RetrievedChunk{g})

	require.Len(t, merged, 1)
	got := merged[0]
	assert.Equal(t, "es", got.Source)
	assert.Equal(t, "正文", got.Text)
	assert.True(t, got.AlsoFromGraph)
	require.NotNil(t, got.GraphSharedEntities)
	assert.Equal(t, int64(3), *got.GraphSharedEntities)
	assert.Equal(t, []string{"张三", "订单系统"}, got.GraphEntities)
}

func TestMergeCandidatesAppendsGraphOnly(t *testing.T) {
	es := model.RetrievedChunk{Source: "es", ChunkID: "c1"}
	g := model.RetrievedChunk{Source: "graph", ChunkID: "c2"}

	merged := mergeCandidates([]model.RetrievedChunk{es}, []model.RetrievedChunk{g})

	require.Len(t, merged, 2)
	assert.Equal(t, "c1", merged[0].ChunkID)
	assert.Equal(t, "c2", merged[1].ChunkID)
	assert.False(t, merged[1].AlsoFromGraph)
}

func TestMergeCandidatesKeysByESIDWhenChunkIDMissing(t *testing.T) {
	legacy := model.RetrievedChunk{Source: "es", ESID: "es-raw-1"}
	dup := model.RetrievedChunk{Source: "es", ESID: "es-raw-1", Text: "后写入"}
	orphan := model.RetrievedChunk{Source: "es"}

	merged := mergeCandidates([]model.RetrievedChunk{legacy, dup, orphan}, nil)

	// 没有任何键的条目被丢弃，相同 ESID 的条目合并
	require.Len(t, merged, 1)
	assert.Equal(t, "后写入", merged[0].Text)
}
