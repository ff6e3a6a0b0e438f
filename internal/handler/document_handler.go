// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"rag-service-go/internal/middleware"
	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"
	"rag-service-go/internal/service"
	"rag-service-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 文档列表的分页上限与默认值。
const (
	documentListDefaultLimit = 100
	documentListMaxLimit     = 500
)

// documentSortColumns 是列表接口允许的排序列白名单。
var documentSortColumns = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"filename":     true,
	"status":       true,
	"stage":        true,
	"progress":     true,
	"chunk_count":  true,
	"entity_count": true,
}

// DocumentHandler 负责处理文档查询相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// List 处理文档列表请求，支持状态过滤、排序与分页。
func (h *DocumentHandler) List(c *gin.Context) {
	status := strings.TrimSpace(c.Query("status"))
	if status != "" && !model.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效的 status: %s", status)})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(documentListDefaultLimit)))
	if err != nil || limit < 1 || limit > documentListMaxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit 必须在 1 到 %d 之间", documentListMaxLimit)})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset 必须是非负整数"})
		return
	}

	sortKey := strings.ToLower(strings.TrimSpace(c.DefaultQuery("sort", "created_at")))
	if !documentSortColumns[sortKey] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效的 sort: %s", sortKey)})
		return
	}
	order := strings.ToLower(strings.TrimSpace(c.DefaultQuery("order", "desc")))
	if order != "asc" && order != "desc" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效的 order: %s", order)})
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	docs, err := h.docService.List(reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID, repository.DocumentListOptions{
		Status:     status,
		SortColumn: sortKey,
		Descending: order == "desc",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		log.Errorf("[DocumentHandler] 查询文档列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档列表失败"})
		return
	}

	c.JSON(http.StatusOK, docs)
}

// Counts 处理文档状态统计请求。
func (h *DocumentHandler) Counts(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)
	counts, err := h.docService.Counts(reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID)
	if err != nil {
		log.Errorf("[DocumentHandler] 统计文档状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "统计文档状态失败"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

// Get 处理单个文档查询请求。
func (h *DocumentHandler) Get(c *gin.Context) {
	docID := c.Param("doc_id")
	reqCtx := middleware.GetRequestContext(c)

	doc, err := h.docService.Get(docID, reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 查询文档失败, DocID: %s, Error: %v", docID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档失败"})
		return
	}
	c.JSON(http.StatusOK, doc)
}
