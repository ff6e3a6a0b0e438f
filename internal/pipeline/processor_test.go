package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"
	"rag-service-go/pkg/graph"
)

// testDocStore 记录 Processor 对文档行做过的全部状态变更。
type testDocStore struct {
	doc              *model.Document
	getErr           error
	markedProcessing bool
	stages           []string
	indexed          bool
	indexedChunks    int
	indexedEntities  int
	failedMsg        string
}

func (s *testDocStore) Create(doc *model.Document) error { return nil }

func (s *testDocStore) GetByID(docID string) (*model.Document, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.doc, nil
}

func (s *testDocStore) GetVisible(docID, tenantID, workspaceID, principalID string) (*model.Document, error) {
	return s.doc, nil
}

func (s *testDocStore) List(tenantID, workspaceID, principalID string, opts repository.DocumentListOptions) ([]model.Document, error) {
	return nil, nil
}

func (s *testDocStore) CountsByStatus(tenantID, workspaceID, principalID string) (map[string]int64, error) {
	return nil, nil
}

func (s *testDocStore) CountsAllByStatus() (map[string]int64, error) { return nil, nil }

func (s *testDocStore) ListActive(tenantID, workspaceID, principalID string, limit int) ([]model.Document, error) {
	return nil, nil
}

func (s *testDocStore) MarkProcessing(docID string) error {
	s.markedProcessing = true
	return nil
}

func (s *testDocStore) UpdateStage(docID, stage string) error {
	s.stages = append(s.stages, stage)
	return nil
}

func (s *testDocStore) MarkIndexed(docID string, chunkCount, entityCount int) error {
	s.indexed = true
	s.indexedChunks = chunkCount
	s.indexedEntities = entityCount
	return nil
}

func (s *testDocStore) MarkFailed(docID, errMsg string) error {
	s.failedMsg = errMsg
	return nil
}

type testBlobStore struct {
	content []byte
	err     error
}

func (b *testBlobStore) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	return b.content, b.err
}

type testVectorIndex struct {
	chunks []model.EsChunk
	err    error
}

func (v *testVectorIndex) BulkInsert(ctx context.Context, chunks []model.EsChunk) error {
	v.chunks = append(v.chunks, chunks...)
	return v.err
}

type testGraphWriter struct {
	params graph.UpsertParams
	err    error
}

func (g *testGraphWriter) UpsertChunks(ctx context.Context, p graph.UpsertParams) (int, error) {
	g.params = p
	return len(p.Chunks), g.err
}

type testChunker struct {
	chunks []model.Chunk
	err    error
}

func (c *testChunker) ChunkPages(ctx context.Context, docID string, pages []model.PageText) ([]model.Chunk, error) {
	return c.chunks, c.err
}

type testEmbedder struct {
	vectors [][]float32
	err     error
}

func (e *testEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[0], nil
}

func (e *testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[:len(texts)], nil
}

type testBroker struct {
	events []model.ProgressEvent
}

func (b *testBroker) Publish(ctx context.Context, event model.ProgressEvent) {
	b.events = append(b.events, event)
}

func pipelineDoc() *model.Document {
	return &model.Document{
		DocID:       "doc-1",
		TenantID:    "tenant-a",
		Scope:       model.ScopeTenant,
		Filename:    "notes.txt",
		ContentType: "text/plain",
		ObjectKey:   "uploads/tenant-a/doc-1/notes.txt",
	}
}

func sampleChunks() []model.Chunk {
	return []model.Chunk{
		{ChunkID: "c1", DocID: "doc-1", Text: "Alpha paragraph.", Title: "Alpha", Section: "intro", Pages: []int{1}},
		{ChunkID: "c2", DocID: "doc-1", Text: "Bravo paragraph.", Title: "Bravo", Section: "body", Pages: []int{1}},
	}
}

func stagesOf(events []model.ProgressEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}

func TestProcessorHappyPathWithGraph(t *testing.T) {
	store := &testDocStore{doc: pipelineDoc()}
	vectors := &testVectorIndex{}
	writer := &testGraphWriter{}
	broker := &testBroker{}
	extractor := NewEntityExtractor(&testLLM{output: `{"entities":[{"type":"person","name":"张三"}]}`}, 25)

	p := NewProcessor(
		store,
		&testBlobStore{content: []byte("Alpha paragraph.\n\nBravo paragraph.")},
		vectors,
		writer,
		&testChunker{chunks: sampleChunks()},
		&testEmbedder{vectors: [][]float32{{0.1}, {0.2}}},
		extractor,
		nil,
		broker,
	)

	p.Process(context.Background(), "doc-1")

	assert.True(t, store.markedProcessing)
	assert.Equal(t, []string{
		model.StageReading,
		model.StageChunking,
		model.StageEmbedding,
		model.StageEntities,
		model.StageGraphWriting,
	}, store.stages)
	assert.True(t, store.indexed)
	assert.Equal(t, 2, store.indexedChunks)
	// 两个分块抽到的是同一个实体，去重后只算一个
	assert.Equal(t, 1, store.indexedEntities)
	assert.Empty(t, store.failedMsg)

	require.Len(t, vectors.chunks, 2)
	assert.Equal(t, "tenant-a", vectors.chunks[0].TenantID)
	assert.Equal(t, "Alpha paragraph.", vectors.chunks[0].Content)
	assert.Equal(t, []float32{0.1}, vectors.chunks[0].Embedding)
	assert.Equal(t, []float32{0.2}, vectors.chunks[1].Embedding)

	assert.Equal(t, "doc-1", writer.params.ParentDocID)
	require.Len(t, writer.params.Chunks, 2)
	require.Len(t, writer.params.Chunks[0].Entities, 1)
	assert.Equal(t, "张三", writer.params.Chunks[0].Entities[0].Name)

	stages := stagesOf(broker.events)
	require.NotEmpty(t, stages)
	assert.Equal(t, model.StageProcessing, stages[0])
	assert.Equal(t, model.StageIndexed, stages[len(stages)-1])
	assert.Equal(t, "Indexed 2 chunks", broker.events[len(broker.events)-1].Message)
}

func TestProcessorVectorOnlyWithoutGraph(t *testing.T) {
	store := &testDocStore{doc: pipelineDoc()}
	broker := &testBroker{}

	p := NewProcessor(
		store,
		&testBlobStore{content: []byte("Alpha paragraph.\n\nBravo paragraph.")},
		&testVectorIndex{},
		nil,
		&testChunker{chunks: sampleChunks()},
		&testEmbedder{vectors: [][]float32{{0.1}, {0.2}}},
		nil,
		nil,
		broker,
	)

	p.Process(context.Background(), "doc-1")

	assert.Equal(t, []string{
		model.StageReading,
		model.StageChunking,
		model.StageEmbedding,
	}, store.stages)
	assert.True(t, store.indexed)
	assert.Equal(t, 2, store.indexedChunks)
	assert.Equal(t, 0, store.indexedEntities)
	assert.NotContains(t, stagesOf(broker.events), model.StageEntities)
	assert.NotContains(t, stagesOf(broker.events), model.StageGraphWriting)
}

func TestProcessorMarksFailedOnChunkerError(t *testing.T) {
	store := &testDocStore{doc: pipelineDoc()}
	broker := &testBroker{}

	p := NewProcessor(
		store,
		&testBlobStore{content: []byte("some content")},
		&testVectorIndex{},
		nil,
		&testChunker{err: errors.New("文档未产出任何 chunk")},
		&testEmbedder{},
		nil,
		nil,
		broker,
	)

	p.Process(context.Background(), "doc-1")

	assert.False(t, store.indexed)
	assert.Contains(t, store.failedMsg, "动态分块失败")
	require.NotEmpty(t, broker.events)
	last := broker.events[len(broker.events)-1]
	assert.Equal(t, model.StageFailed, last.Stage)
	assert.Contains(t, last.Message, "动态分块失败")
}

func TestProcessorRejectsEmptyFile(t *testing.T) {
	store := &testDocStore{doc: pipelineDoc()}

	p := NewProcessor(
		store,
		&testBlobStore{content: []byte{}},
		&testVectorIndex{},
		nil,
		&testChunker{},
		&testEmbedder{},
		nil,
		nil,
		&testBroker{},
	)

	p.Process(context.Background(), "doc-1")

	assert.False(t, store.indexed)
	assert.Equal(t, "源文件内容为空", store.failedMsg)
}

func TestProcessorAbandonsMissingDocument(t *testing.T) {
	store := &testDocStore{getErr: errors.New("record not found")}

	p := NewProcessor(store, &testBlobStore{}, &testVectorIndex{}, nil,
		&testChunker{}, &testEmbedder{}, nil, nil, &testBroker{})

	p.Process(context.Background(), "missing")

	assert.False(t, store.markedProcessing)
	assert.Empty(t, store.stages)
	assert.Empty(t, store.failedMsg)
}
