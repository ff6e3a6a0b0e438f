package handler

import (
	"fmt"
	"net/http"

	"rag-service-go/internal/config"
	"rag-service-go/internal/middleware"
	"rag-service-go/internal/service"
	"rag-service-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// retrieveRequest 是检索接口的请求体。
// 可选字段用指针区分"未传"与显式的零值。
type retrieveRequest struct {
	Query    string   `json:"query" binding:"required"`
	Limit    *int     `json:"limit"`
	Alpha    *float64 `json:"alpha"`
	UseGraph *bool    `json:"use_graph"`
}

// RetrieveHandler 结构体定义了混合检索相关的处理器。
type RetrieveHandler struct {
	retrievalService service.RetrievalService
	retrievalCfg     config.RetrievalConfig
}

// NewRetrieveHandler 创建一个新的 RetrieveHandler 实例。
func NewRetrieveHandler(retrievalService service.RetrievalService, retrievalCfg config.RetrievalConfig) *RetrieveHandler {
	return &RetrieveHandler{
		retrievalService: retrievalService,
		retrievalCfg:     retrievalCfg,
	}
}

// Retrieve 处理混合检索请求。
func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体, query 为必填字段"})
		return
	}

	limit := h.retrievalCfg.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > h.retrievalCfg.MaxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit 必须在 1 到 %d 之间", h.retrievalCfg.MaxLimit)})
		return
	}

	alpha := h.retrievalCfg.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}
	if alpha < 0 || alpha > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alpha 必须在 0 到 1 之间"})
		return
	}

	useGraph := true
	if req.UseGraph != nil {
		useGraph = *req.UseGraph
	}

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.retrievalService.Retrieve(c.Request.Context(), service.RetrieveInput{
		TenantID:    reqCtx.TenantID,
		WorkspaceID: reqCtx.WorkspaceID,
		PrincipalID: reqCtx.PrincipalID,
		Query:       req.Query,
		Limit:       limit,
		Alpha:       alpha,
		UseGraph:    useGraph,
	})
	if err != nil {
		log.Errorf("[RetrieveHandler] 检索失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	c.JSON(http.StatusOK, result)
}
