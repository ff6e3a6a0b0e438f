package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"
)

// testDocRepo 是 DocumentRepository 的内存实现，字段即各方法的返回值。
type testDocRepo struct {
	visibleDoc *model.Document
	visibleErr error
	listDocs   []model.Document
	listErr    error
	activeDocs []model.Document
	counts     map[string]int64
	countsAll  map[string]int64
	countsErr  error
}

func (r *testDocRepo) Create(doc *model.Document) error { return nil }

func (r *testDocRepo) GetByID(docID string) (*model.Document, error) {
	if r.visibleDoc == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.visibleDoc, nil
}

func (r *testDocRepo) GetVisible(docID, tenantID, workspaceID, principalID string) (*model.Document, error) {
	if r.visibleErr != nil {
		return nil, r.visibleErr
	}
	if r.visibleDoc == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.visibleDoc, nil
}

func (r *testDocRepo) List(tenantID, workspaceID, principalID string, opts repository.DocumentListOptions) ([]model.Document, error) {
	return r.listDocs, r.listErr
}

func (r *testDocRepo) CountsByStatus(tenantID, workspaceID, principalID string) (map[string]int64, error) {
	return r.counts, r.countsErr
}

func (r *testDocRepo) CountsAllByStatus() (map[string]int64, error) {
	return r.countsAll, r.countsErr
}

func (r *testDocRepo) ListActive(tenantID, workspaceID, principalID string, limit int) ([]model.Document, error) {
	return r.activeDocs, nil
}

func (r *testDocRepo) MarkProcessing(docID string) error { return nil }

func (r *testDocRepo) UpdateStage(docID, stage string) error { return nil }

func (r *testDocRepo) MarkIndexed(docID string, chunkCount, entityCount int) error { return nil }

func (r *testDocRepo) MarkFailed(docID, errMsg string) error { return nil }

// testProgressReader 返回预置的进度缓存。
type testProgressReader struct {
	events map[string]*model.ProgressEvent
	err    error
}

func (r *testProgressReader) GetCached(ctx context.Context, docID string) (*model.ProgressEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.events[docID], nil
}

func sampleDoc() *model.Document {
	return &model.Document{
		DocID:     "doc-1",
		TenantID:  "tenant-a",
		Scope:     model.ScopeTenant,
		Filename:  "report.pdf",
		Status:    model.StatusProcessing,
		Stage:     model.StageEmbedding,
		Progress:  55,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDocumentServiceProgressPrefersCache(t *testing.T) {
	cached := &model.ProgressEvent{DocID: "doc-1", Stage: model.StageEntities, Progress: 85, Message: "Extracted entities"}
	svc := NewDocumentService(
		&testDocRepo{visibleDoc: sampleDoc()},
		&testProgressReader{events: map[string]*model.ProgressEvent{"doc-1": cached}},
	)

	event, err := svc.Progress(context.Background(), "doc-1", "tenant-a", "", "")

	require.NoError(t, err)
	assert.Equal(t, cached, event)
}

func TestDocumentServiceProgressFallsBackToRow(t *testing.T) {
	svc := NewDocumentService(
		&testDocRepo{visibleDoc: sampleDoc()},
		&testProgressReader{},
	)

	event, err := svc.Progress(context.Background(), "doc-1", "tenant-a", "", "")

	require.NoError(t, err)
	assert.Equal(t, "doc-1", event.DocID)
	assert.Equal(t, model.StageEmbedding, event.Stage)
	assert.Equal(t, 55, event.Progress)
	assert.Equal(t, "In progress…", event.Message)
	assert.Equal(t, "2026-03-01T12:00:00Z", event.Timestamp)
}

func TestDocumentServiceProgressNotFound(t *testing.T) {
	svc := NewDocumentService(&testDocRepo{}, &testProgressReader{})

	event, err := svc.Progress(context.Background(), "missing", "tenant-a", "", "")

	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Nil(t, event)
}

func TestDocumentServiceActiveIngestionsMixesCacheAndFallback(t *testing.T) {
	docA := *sampleDoc()
	docB := *sampleDoc()
	docB.DocID = "doc-2"
	docB.Stage = model.StageChunking
	docB.Progress = 35

	cached := &model.ProgressEvent{DocID: "doc-1", Stage: model.StageGraphWriting, Progress: 95, Message: "Writing graph"}
	svc := NewDocumentService(
		&testDocRepo{activeDocs: []model.Document{docA, docB}},
		&testProgressReader{events: map[string]*model.ProgressEvent{"doc-1": cached}},
	)

	events, err := svc.ActiveIngestions(context.Background(), "tenant-a", "", "")

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.StageGraphWriting, events[0].Stage)
	assert.Equal(t, model.StageChunking, events[1].Stage)
	assert.Equal(t, "In progress…", events[1].Message)
}

func TestDocumentServiceCounts(t *testing.T) {
	svc := NewDocumentService(&testDocRepo{counts: map[string]int64{
		model.StatusQueued:     2,
		model.StatusProcessing: 1,
		model.StatusIndexed:    10,
		model.StatusFailed:     3,
	}}, &testProgressReader{})

	counts, err := svc.Counts("tenant-a", "", "")

	require.NoError(t, err)
	assert.Equal(t, int64(16), counts.Total)
	assert.Equal(t, int64(2), counts.Queued)
	assert.Equal(t, int64(1), counts.Processing)
	assert.Equal(t, int64(10), counts.Indexed)
	assert.Equal(t, int64(3), counts.Failed)
}

func TestDocumentServiceListNeverReturnsNil(t *testing.T) {
	svc := NewDocumentService(&testDocRepo{}, &testProgressReader{})

	docs, err := svc.List("tenant-a", "", "", repository.DocumentListOptions{SortColumn: "created_at", Limit: 20})

	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestFallbackEventMessages(t *testing.T) {
	failed := *sampleDoc()
	failed.Status = model.StatusFailed
	failed.Stage = model.StageFailed
	failed.ErrorMessage = "分块失败: 文档未产出任何 chunk"

	indexed := *sampleDoc()
	indexed.Status = model.StatusIndexed
	indexed.Stage = model.StageIndexed
	indexed.Progress = 100
	indexed.ChunkCount = 7

	failedNoMsg := *sampleDoc()
	failedNoMsg.Status = model.StatusFailed

	cases := []struct {
		name string
		doc  model.Document
		want string
	}{
		{"失败带错误信息", failed, "分块失败: 文档未产出任何 chunk"},
		{"成功带分块数", indexed, "Indexed 7 chunks"},
		{"处理中", *sampleDoc(), "In progress…"},
		{"失败但缺错误信息", failedNoMsg, "In progress…"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := fallbackEvent(tc.doc)
			assert.Equal(t, tc.want, event.Message)
			assert.Equal(t, tc.doc.DocID, event.DocID)
			assert.Equal(t, tc.doc.Stage, event.Stage)
			assert.Equal(t, tc.doc.Progress, event.Progress)
		})
	}
}
