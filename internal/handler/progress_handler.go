package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"rag-service-go/internal/middleware"
	"rag-service-go/internal/progress"
	"rag-service-go/internal/service"
	"rag-service-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var progressUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ProgressHandler 负责摄取进度的查询与实时推送。
type ProgressHandler struct {
	docService service.DocumentService
	broker     *progress.Broker
}

// NewProgressHandler 创建一个新的 ProgressHandler 实例。
func NewProgressHandler(docService service.DocumentService, broker *progress.Broker) *ProgressHandler {
	return &ProgressHandler{docService: docService, broker: broker}
}

// Progress 返回单个可见文档的最新进度快照。
func (h *ProgressHandler) Progress(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)
	docID := c.Param("doc_id")

	event, err := h.docService.Progress(c.Request.Context(), docID,
		reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[ProgressHandler] 查询文档进度失败, DocID: %s, Error: %v", docID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档进度失败"})
		return
	}
	c.JSON(http.StatusOK, event)
}

// Active 列出仍在排队或处理中的可见文档及其最新进度。
func (h *ProgressHandler) Active(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)
	events, err := h.docService.ActiveIngestions(c.Request.Context(),
		reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID)
	if err != nil {
		log.Errorf("[ProgressHandler] 查询活跃摄取失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询活跃摄取失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": events})
}

// Stream 以 SSE 推送进度事件。连接建立后先发一条 connected 确认，
// 之后只转发请求方可见的事件，直到客户端断开。
func (h *ProgressHandler) Stream(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "当前连接不支持流式响应"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-store")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	sub := h.broker.Subscribe(c.Request.Context())
	defer sub.Close()

	fmt.Fprint(c.Writer, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if !event.VisibleTo(reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID) {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// StreamWS 是进度推送的 WebSocket 形态，事件过滤规则与 SSE 一致。
func (h *ProgressHandler) StreamWS(c *gin.Context) {
	reqCtx := middleware.GetRequestContext(c)

	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(c.Request.Context())
	defer sub.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`)); err != nil {
		return
	}

	// 读取端只用来感知客户端断开。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if !event.VisibleTo(reqCtx.TenantID, reqCtx.WorkspaceID, reqCtx.PrincipalID) {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warnf("[ProgressHandler] WebSocket 写入失败, 连接关闭: %v", err)
				return
			}
		}
	}
}
