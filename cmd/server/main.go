// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-service-go/internal/chunker"
	"rag-service-go/internal/config"
	"rag-service-go/internal/control"
	"rag-service-go/internal/handler"
	"rag-service-go/internal/middleware"
	"rag-service-go/internal/pipeline"
	"rag-service-go/internal/progress"
	"rag-service-go/internal/repository"
	"rag-service-go/internal/service"
	"rag-service-go/pkg/database"
	"rag-service-go/pkg/embedding"
	"rag-service-go/pkg/es"
	"rag-service-go/pkg/graph"
	"rag-service-go/pkg/llm"
	"rag-service-go/pkg/log"
	"rag-service-go/pkg/queue"
	"rag-service-go/pkg/rerank"
	"rag-service-go/pkg/storage"
	"rag-service-go/pkg/tika"
	"rag-service-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库与存储后端
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}

	// Neo4j 连接失败时本实例退化为纯向量模式，不阻塞启动。
	ctx := context.Background()
	var graphStore *graph.Store
	if cfg.Graph.Enabled {
		store, err := graph.NewStore(ctx, cfg.Neo4j)
		if err != nil {
			log.Warnf("Neo4j 初始化失败, 本实例退化为纯向量模式: %v", err)
		} else {
			if err := store.EnsureConstraints(ctx); err != nil {
				log.Warnf("创建 Neo4j 约束失败: %v", err)
			}
			graphStore = store
		}
	} else {
		log.Info("图谱功能未启用, 摄取与检索按纯向量模式运行")
	}

	// 任务队列与 worker 控制面
	taskQueue, err := queue.New(cfg.Queue, database.RDB)
	if err != nil {
		log.Errorf("队列初始化失败 %s", err)
		return
	}
	plane := control.NewRedisPlane(database.RDB)
	broker := progress.NewBroker(database.RDB, cfg.Workers.ProgressChannel)

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)

	// 5. 初始化外部服务客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	reranker := rerank.NewScorer(cfg.Rerank)

	// 接口变量只在 store 就绪时赋值，避免把 nil 指针装进非 nil 接口。
	var graphWriter pipeline.GraphWriter
	var graphExpander service.GraphExpander
	var graphReader service.GraphStore
	var graphPinger handler.ComponentPinger
	if graphStore != nil {
		graphWriter = graphStore
		graphExpander = graphStore
		graphReader = graphStore
		graphPinger = graphStore
	}

	// 6. 初始化文件处理管道 (Processor) 与调度器
	docChunker := chunker.New(llmClient, cfg.Chunking)
	extractor := pipeline.NewEntityExtractor(llmClient, cfg.Graph.MaxEntitiesPerChunk)
	processor := pipeline.NewProcessor(
		docRepo,
		pipeline.NewMinioBlobStore(cfg.MinIO.BucketName),
		pipeline.NewESVectorIndex(cfg.Elasticsearch.IndexName),
		graphWriter,
		docChunker,
		embeddingClient,
		extractor,
		tikaClient,
		broker,
	)
	scheduler, err := pipeline.NewScheduler(taskQueue, plane, processor, cfg.Workers.PoolSize)
	if err != nil {
		log.Errorf("调度器初始化失败 %s", err)
		return
	}
	scheduler.Start()

	// 7. 初始化 Service (依赖注入)
	ingestService := service.NewIngestService(docRepo, taskQueue, broker, cfg.MinIO)
	retrievalService := service.NewRetrievalService(embeddingClient, reranker, graphExpander, cfg.Retrieval, cfg.Elasticsearch.IndexName)
	documentService := service.NewDocumentService(docRepo, broker)
	graphService := service.NewGraphService(graphReader)
	adminService := service.NewAdminService(cfg.Auth, jwtManager, plane, taskQueue, docRepo, scheduler.PoolSize())

	// 8. 初始化 Handler
	ingestHandler := handler.NewIngestHandler(ingestService)
	retrieveHandler := handler.NewRetrieveHandler(retrievalService, cfg.Retrieval)
	documentHandler := handler.NewDocumentHandler(documentService)
	progressHandler := handler.NewProgressHandler(documentService, broker)
	graphHandler := handler.NewGraphHandler(graphService)
	adminHandler := handler.NewAdminHandler(adminService)
	healthHandler := handler.NewHealthHandler(embeddingClient, graphPinger, cfg.MinIO.BucketName, cfg.Embedding.Model)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(gin.Recovery())

	// SSE 和 WebSocket 长连接不能经过会缓冲响应体的日志中间件，单独挂载。
	streams := r.Group("/api/v1/ingest/progress")
	streams.Use(middleware.APIKeyAuth(cfg.Auth.Tenants))
	{
		streams.GET("/stream", progressHandler.Stream)
		streams.GET("/ws", progressHandler.StreamWS)
	}

	// 10. 注册路由
	api := r.Group("/")
	api.Use(middleware.RequestLogger())
	{
		// 探针与管理端登录无需数据面认证
		api.GET("/healthz", healthHandler.Live)
		api.GET("/readyz", healthHandler.Ready)
		api.POST("/api/v1/admin/login", adminHandler.Login)

		apiV1 := api.Group("/api/v1")
		apiV1.Use(middleware.APIKeyAuth(cfg.Auth.Tenants))
		{
			apiV1.POST("/ingest", ingestHandler.Ingest)
			apiV1.GET("/ingest/active", progressHandler.Active)
			apiV1.GET("/ingest/progress/:doc_id", progressHandler.Progress)

			apiV1.POST("/retrieve", retrieveHandler.Retrieve)

			documents := apiV1.Group("/documents")
			{
				documents.GET("", documentHandler.List)
				documents.GET("/counts", documentHandler.Counts)
				documents.GET("/:doc_id", documentHandler.Get)
			}

			graphGroup := apiV1.Group("/graph")
			{
				graphGroup.GET("/entities", graphHandler.ListEntities)
				graphGroup.GET("/entities/:entity_id/chunks", graphHandler.EntityChunks)
				graphGroup.GET("/documents/:doc_id/entities", graphHandler.DocumentEntities)
			}

			apiV1.GET("/whoami", healthHandler.WhoAmI)
		}

		admin := api.Group("/api/v1/admin")
		admin.Use(middleware.AdminAuth(jwtManager))
		{
			admin.GET("/status", adminHandler.Status)
			admin.GET("/workers/status", adminHandler.WorkerStatus)
			admin.POST("/workers/pause", adminHandler.PauseWorkers)
			admin.POST("/workers/resume", adminHandler.ResumeWorkers)
			admin.GET("/workers/concurrency", adminHandler.GetConcurrency)
			admin.PUT("/workers/concurrency", adminHandler.SetConcurrency)
		}
	}

	// 11. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止拉取新任务，等待在途文档处理完毕后再释放后端连接。
	scheduler.Stop()
	if err := taskQueue.Close(); err != nil {
		log.Errorf("关闭任务队列失败: %v", err)
	}
	if graphStore != nil {
		if err := graphStore.Close(shutdownCtx); err != nil {
			log.Errorf("关闭 Neo4j 连接失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}
