package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"rag-service-go/internal/middleware"
	"rag-service-go/internal/service"
	"rag-service-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// GraphHandler 负责处理图谱浏览相关的 API 请求。
type GraphHandler struct {
	graphService service.GraphService
}

// NewGraphHandler 创建一个新的 GraphHandler 实例。
func NewGraphHandler(graphService service.GraphService) *GraphHandler {
	return &GraphHandler{graphService: graphService}
}

// parseLimit 解析 limit 查询参数并校验取值范围。
func parseLimit(c *gin.Context, def, max int) (int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > max {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit 必须在 1 到 %d 之间", max)})
		return 0, false
	}
	return limit, true
}

// respondGraphError 统一处理图谱查询错误：未启用返回 503，其余返回 500。
func respondGraphError(c *gin.Context, err error, operation string) {
	if errors.Is(err, service.ErrGraphDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "图谱功能未启用"})
		return
	}
	log.Errorf("[GraphHandler] %s失败: %v", operation, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "失败"})
}

// ListEntities 列出租户图谱中的实体，支持名称子串与类型过滤。
func (h *GraphHandler) ListEntities(c *gin.Context) {
	limit, ok := parseLimit(c, 50, 500)
	if !ok {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	entityType := strings.TrimSpace(c.Query("entity_type"))

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.graphService.ListEntities(c.Request.Context(),
		reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID, q, entityType, limit)
	if err != nil {
		respondGraphError(c, err, "查询实体列表")
		return
	}
	c.JSON(http.StatusOK, result)
}

// EntityChunks 列出提及某实体且请求方可见的分块。
func (h *GraphHandler) EntityChunks(c *gin.Context) {
	limit, ok := parseLimit(c, 25, 200)
	if !ok {
		return
	}
	entityID := c.Param("entity_id")

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.graphService.EntityChunks(c.Request.Context(),
		reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID, entityID, limit)
	if err != nil {
		respondGraphError(c, err, "查询实体分块")
		return
	}
	c.JSON(http.StatusOK, result)
}

// DocumentEntities 列出某文档的分块所提及的实体。
func (h *GraphHandler) DocumentEntities(c *gin.Context) {
	limit, ok := parseLimit(c, 50, 500)
	if !ok {
		return
	}
	docID := c.Param("doc_id")

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.graphService.DocumentEntities(c.Request.Context(),
		reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID, docID, limit)
	if err != nil {
		respondGraphError(c, err, "查询文档实体")
		return
	}
	c.JSON(http.StatusOK, result)
}
