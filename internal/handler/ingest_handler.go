// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"fmt"
	"io"
	"net/http"

	"rag-service-go/internal/middleware"
	"rag-service-go/internal/model"
	"rag-service-go/internal/service"
	"rag-service-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IngestHandler 结构体定义了文档摄取相关的处理器。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// Ingest 处理文档上传请求：校验范围参数后交给服务层入队，立即返回 202。
func (h *IngestHandler) Ingest(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)

	scope := c.DefaultPostForm("scope", model.ScopeTenant)
	if !model.ValidScope(scope) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效的 scope: %s", scope)})
		return
	}
	if (scope == model.ScopeWorkspace || scope == model.ScopeUser) && reqCtx.WorkspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace/user 范围的文档需要 X-Workspace-Id 请求头"})
		return
	}
	if scope == model.ScopeUser && reqCtx.PrincipalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user 范围的文档需要 X-Principal-Id 请求头"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[IngestHandler] 打开上传文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传内容失败"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		log.Errorf("[IngestHandler] 读取上传文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传内容失败"})
		return
	}
	if len(content) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "上传内容为空"})
		return
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), service.IngestInput{
		TenantID:    reqCtx.TenantID,
		Scope:       scope,
		WorkspaceID: reqCtx.WorkspaceID,
		PrincipalID: reqCtx.PrincipalID,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		log.Errorf("[IngestHandler] 文档摄取入队失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档摄取入队失败"})
		return
	}

	c.JSON(http.StatusAccepted, result)
}
