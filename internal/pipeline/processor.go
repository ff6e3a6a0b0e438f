// Package pipeline 实现了文档摄取的核心流程：
// 读取源文件、提取页文本、LLM 动态分块、向量化入索引、抽取实体并写入图谱。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rag-service-go/internal/chunker"
	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"
	"rag-service-go/pkg/embedding"
	"rag-service-go/pkg/es"
	"rag-service-go/pkg/graph"
	"rag-service-go/pkg/log"
	"rag-service-go/pkg/storage"
	"rag-service-go/pkg/tika"
)

// Chunker 把页文本切成带定位信息的语义分块。
type Chunker interface {
	ChunkPages(ctx context.Context, docID string, pages []model.PageText) ([]model.Chunk, error)
}

// BlobStore 按对象键读取源文件内容。
type BlobStore interface {
	Fetch(ctx context.Context, objectKey string) ([]byte, error)
}

// VectorIndex 批量写入带向量的分块文档。
type VectorIndex interface {
	BulkInsert(ctx context.Context, chunks []model.EsChunk) error
}

// GraphWriter 把分块及其实体写入知识图谱。
type GraphWriter interface {
	UpsertChunks(ctx context.Context, p graph.UpsertParams) (int, error)
}

// ProgressPublisher 对外广播摄取进度事件。
type ProgressPublisher interface {
	Publish(ctx context.Context, event model.ProgressEvent)
}

// Processor 封装了单个文档摄取任务的所有依赖和逻辑。
// graphWriter 为 nil 时跳过实体抽取与图谱写入，管线退化为纯向量模式。
type Processor struct {
	docRepo     repository.DocumentRepository
	blobs       BlobStore
	vectors     VectorIndex
	graphWriter GraphWriter
	chunker     Chunker
	embedder    embedding.Client
	extractor   *EntityExtractor
	tikaClient  *tika.Client
	broker      ProgressPublisher
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	docRepo repository.DocumentRepository,
	blobs BlobStore,
	vectors VectorIndex,
	graphWriter GraphWriter,
	chunker Chunker,
	embedder embedding.Client,
	extractor *EntityExtractor,
	tikaClient *tika.Client,
	broker ProgressPublisher,
) *Processor {
	return &Processor{
		docRepo:     docRepo,
		blobs:       blobs,
		vectors:     vectors,
		graphWriter: graphWriter,
		chunker:     chunker,
		embedder:    embedder,
		extractor:   extractor,
		tikaClient:  tikaClient,
		broker:      broker,
	}
}

// Process 是单个文档摄取任务的入口。任何一步失败都会把文档标记为 failed
// 并广播失败事件；文档记录已不存在时直接放弃任务。
func (p *Processor) Process(ctx context.Context, docID string) {
	doc, err := p.docRepo.GetByID(docID)
	if err != nil {
		log.Warnf("[Processor] 文档记录不存在, 放弃任务, DocID: %s, Error: %v", docID, err)
		return
	}

	if err := p.run(ctx, doc); err != nil {
		log.Errorf("[Processor] 文档摄取失败, DocID: %s, Error: %v", doc.DocID, err)
		if markErr := p.docRepo.MarkFailed(doc.DocID, err.Error()); markErr != nil {
			log.Errorf("[Processor] 标记文档失败状态出错, DocID: %s, Error: %v", doc.DocID, markErr)
		}
		p.publish(ctx, doc, model.StageFailed, err.Error())
	}
}

// run 按固定阶段推进摄取流程，每个阶段先落库再广播进度。
func (p *Processor) run(ctx context.Context, doc *model.Document) error {
	log.Infof("[Processor] 开始摄取文档, DocID: %s, FileName: %s, Tenant: %s, Scope: %s",
		doc.DocID, doc.Filename, doc.TenantID, doc.Scope)
	if err := p.docRepo.MarkProcessing(doc.DocID); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	p.publish(ctx, doc, model.StageProcessing, "Starting ingestion…")

	// 1. 从对象存储读取源文件
	log.Infof("[Processor] 步骤1: 从对象存储读取文件, Object: %s", doc.ObjectKey)
	p.stage(ctx, doc, model.StageReading, "Reading file…")
	content, err := p.blobs.Fetch(ctx, doc.ObjectKey)
	if err != nil {
		return fmt.Errorf("读取源文件失败: %w", err)
	}
	if len(content) == 0 {
		return errors.New("源文件内容为空")
	}
	log.Infof("[Processor] 步骤1: 读取成功, 大小: %d 字节", len(content))

	// 2. 按内容类型提取页文本
	pages, err := p.extractPages(ctx, doc, content)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.New("未能从文档中提取到任何文本")
	}
	log.Infof("[Processor] 步骤2: 文本提取完成, 页数: %d", len(pages))

	// 3. LLM 动态分块
	log.Info("[Processor] 步骤3: 进行动态分块")
	p.stage(ctx, doc, model.StageChunking, "Chunking…")
	chunks, err := p.chunker.ChunkPages(ctx, doc.DocID, pages)
	if err != nil {
		return fmt.Errorf("动态分块失败: %w", err)
	}
	log.Infof("[Processor] 步骤3: 分块完成, 共 %d 个分块", len(chunks))

	// 4. 向量化并批量写入索引
	log.Info("[Processor] 步骤4: 向量化并写入索引")
	p.stage(ctx, doc, model.StageEmbedding, "Embedding + indexing…")
	texts := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("向量化失败: %w", err)
	}
	if err := p.vectors.BulkInsert(ctx, buildEsChunks(doc, chunks, embeddings)); err != nil {
		return fmt.Errorf("写入向量索引失败: %w", err)
	}
	log.Infof("[Processor] 步骤4: 索引写入完成, 共 %d 个分块", len(chunks))

	// 5. 抽取实体并写入图谱（图谱不可用时跳过）
	entityCount := 0
	if p.graphWriter != nil {
		log.Info("[Processor] 步骤5: 抽取实体")
		p.stage(ctx, doc, model.StageEntities, "Extracting entities…")
		entitiesByChunk := make(map[string][]model.Entity, len(chunks))
		uniqueEntities := make(map[string]struct{})
		for i, ch := range chunks {
			ents := p.extractor.Extract(ctx, ch.Text)
			entitiesByChunk[ch.ChunkID] = ents
			for _, ent := range ents {
				uniqueEntities[ent.Type+"\x00"+strings.ToLower(ent.Name)] = struct{}{}
			}
			log.Infof("[Processor] 分块 %d/%d 抽取到 %d 个实体", i+1, len(chunks), len(ents))
		}
		entityCount = len(uniqueEntities)

		log.Infof("[Processor] 步骤6: 写入知识图谱, 去重实体数: %d", entityCount)
		p.stage(ctx, doc, model.StageGraphWriting, "Writing graph…")
		upserts := make([]graph.ChunkUpsert, 0, len(chunks))
		for _, ch := range chunks {
			upserts = append(upserts, graph.ChunkUpsert{
				ChunkID:  ch.ChunkID,
				Title:    ch.Title,
				Section:  ch.Section,
				Summary:  ch.Summary,
				Pages:    ch.Pages,
				Text:     ch.Text,
				Entities: entitiesByChunk[ch.ChunkID],
			})
		}
		if _, err := p.graphWriter.UpsertChunks(ctx, graph.UpsertParams{
			TenantID:    doc.TenantID,
			Scope:       doc.Scope,
			WorkspaceID: doc.WorkspaceID,
			PrincipalID: doc.PrincipalID,
			ParentDocID: doc.DocID,
			Chunks:      upserts,
		}); err != nil {
			return fmt.Errorf("写入图谱失败: %w", err)
		}
	} else {
		log.Infof("[Processor] 图谱未启用, 跳过实体抽取与图谱写入, DocID: %s", doc.DocID)
	}

	// 6. 标记摄取成功
	if err := p.docRepo.MarkIndexed(doc.DocID, len(chunks), entityCount); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	p.publish(ctx, doc, model.StageIndexed, fmt.Sprintf("Indexed %d chunks", len(chunks)))
	log.Infof("[Processor] 文档摄取成功完成, DocID: %s, Chunks: %d, Entities: %d",
		doc.DocID, len(chunks), entityCount)
	return nil
}

// extractPages 根据内容类型选择提取方式：PDF 按物理页，纯文本按段落聚页，
// 其余富格式交给 Tika 提取后再聚页。
func (p *Processor) extractPages(ctx context.Context, doc *model.Document, content []byte) ([]model.PageText, error) {
	contentType := strings.ToLower(doc.ContentType)
	switch {
	case isPDF(contentType, doc.Filename):
		log.Infof("[Processor] 步骤2: 按 PDF 逐页提取文本, FileName: %s", doc.Filename)
		return extractPDFPages(content)
	case isPlainText(contentType, doc.Filename):
		log.Infof("[Processor] 步骤2: 按纯文本聚合成页, FileName: %s", doc.Filename)
		return chunker.PaginateText(string(content)), nil
	default:
		log.Infof("[Processor] 步骤2: 使用Tika提取文本, FileName: %s, ContentType: %s", doc.Filename, contentType)
		text, err := p.tikaClient.ExtractText(ctx, bytes.NewReader(content), doc.Filename)
		if err != nil {
			return nil, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
		}
		return chunker.PaginateText(text), nil
	}
}

// buildEsChunks 把分块与其向量拼装成索引文档，整批共用同一个写入时间。
func buildEsChunks(doc *model.Document, chunks []model.Chunk, embeddings [][]float32) []model.EsChunk {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	out := make([]model.EsChunk, 0, len(chunks))
	for i, ch := range chunks {
		out = append(out, model.EsChunk{
			ChunkID:      ch.ChunkID,
			DocID:        doc.DocID,
			TenantID:     doc.TenantID,
			Scope:        doc.Scope,
			WorkspaceID:  doc.WorkspaceID,
			PrincipalID:  doc.PrincipalID,
			Filename:     doc.Filename,
			Title:        ch.Title,
			Section:      ch.Section,
			Summary:      ch.Summary,
			Pages:        ch.Pages,
			Content:      ch.Text,
			WhyThisChunk: ch.WhyThisChunk,
			StartChar:    ch.StartChar,
			EndChar:      ch.EndChar,
			Embedding:    embeddings[i],
			CreatedAt:    createdAt,
		})
	}
	return out
}

// stage 落库阶段流转并广播对应的进度事件。
func (p *Processor) stage(ctx context.Context, doc *model.Document, stage, message string) {
	if err := p.docRepo.UpdateStage(doc.DocID, stage); err != nil {
		log.Warnf("[Processor] 更新文档阶段失败, DocID: %s, Stage: %s, Error: %v", doc.DocID, stage, err)
	}
	p.publish(ctx, doc, stage, message)
}

// publish 向进度通道广播事件，broker 未配置时静默跳过。
func (p *Processor) publish(ctx context.Context, doc *model.Document, stage, message string) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(ctx, model.ProgressEvent{
		DocID:       doc.DocID,
		TenantID:    doc.TenantID,
		Scope:       doc.Scope,
		WorkspaceID: doc.WorkspaceID,
		PrincipalID: doc.PrincipalID,
		Filename:    doc.Filename,
		Stage:       stage,
		Progress:    model.StageProgress(stage),
		Message:     message,
	})
}

// minioBlobStore 把全局 MinIO 客户端适配成 Processor 的读取依赖。
type minioBlobStore struct {
	bucket string
}

// NewMinioBlobStore 创建基于 MinIO 的 BlobStore。
func NewMinioBlobStore(bucket string) BlobStore {
	return &minioBlobStore{bucket: bucket}
}

func (m *minioBlobStore) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	return storage.FetchDocument(ctx, m.bucket, objectKey)
}

// esVectorIndex 把全局 Elasticsearch 客户端适配成 Processor 的索引依赖。
type esVectorIndex struct {
	index string
}

// NewESVectorIndex 创建基于 Elasticsearch 的 VectorIndex。
func NewESVectorIndex(index string) VectorIndex {
	return &esVectorIndex{index: index}
}

func (e *esVectorIndex) BulkInsert(ctx context.Context, chunks []model.EsChunk) error {
	return es.BulkInsertChunks(ctx, e.index, chunks)
}
