package handler

import (
	"context"
	"net/http"
	"time"

	"rag-service-go/internal/middleware"
	"rag-service-go/pkg/database"
	"rag-service-go/pkg/embedding"
	"rag-service-go/pkg/es"
	"rag-service-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// ComponentPinger 探测单个后端组件的连通性。
type ComponentPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 负责健康检查与请求身份回显。
type HealthHandler struct {
	embedder       embedding.Client
	graph          ComponentPinger // nil 表示图谱未启用, 跳过该项检查
	minioBucket    string
	embeddingModel string
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(embedder embedding.Client, graph ComponentPinger, minioBucket, embeddingModel string) *HealthHandler {
	return &HealthHandler{
		embedder:       embedder,
		graph:          graph,
		minioBucket:    minioBucket,
		embeddingModel: embeddingModel,
	}
}

// Live 是存活探针，进程能应答即返回 200。
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready 逐个探测后端组件并汇总结果，任何一项失败时返回 503。
// 该接口不做认证，供负载均衡与部署探针调用。
func (h *HealthHandler) Ready(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	checks := gin.H{}

	checks["mysql"] = checkResult(pingMySQL(ctx))
	checks["redis"] = checkResult(database.RDB.Ping(ctx).Err())
	checks["elasticsearch"] = checkResult(es.Ping(ctx))
	checks["minio"] = checkResult(storage.Ping(ctx, h.minioBucket))
	if h.graph != nil {
		checks["neo4j"] = checkResult(h.graph.Ping(ctx))
	}

	// 向量化做一次真实调用，顺带报告向量维度。
	if vec, err := h.embedder.CreateEmbedding(ctx, "test"); err != nil {
		checks["embeddings"] = gin.H{"ok": false, "error": err.Error()}
	} else {
		checks["embeddings"] = gin.H{"ok": true, "dim": len(vec), "model": h.embeddingModel}
	}

	ok := true
	for _, v := range checks {
		if m, isMap := v.(gin.H); isMap {
			if passed, _ := m["ok"].(bool); !passed {
				ok = false
				break
			}
		}
	}

	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"ok":         ok,
		"checks":     checks,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// WhoAmI 回显认证中间件解析出的租户与可见范围。
func (h *HealthHandler) WhoAmI(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":    reqCtx.TenantID,
		"workspace_id": nullableString(reqCtx.WorkspaceID),
		"principal_id": nullableString(reqCtx.PrincipalID),
	})
}

// pingMySQL 通过底层连接池探测数据库连通性。
func pingMySQL(ctx context.Context) error {
	sqlDB, err := database.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// checkResult 把错误折叠成 {ok, error} 形式的检查项。
func checkResult(err error) gin.H {
	if err != nil {
		return gin.H{"ok": false, "error": err.Error()}
	}
	return gin.H{"ok": true}
}

// nullableString 把空串转换为 JSON null。
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
