// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"rag-service-go/internal/service"
	"rag-service-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理端相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// adminLoginRequest 是管理端登录接口的请求体。
type adminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// setConcurrencyRequest 是调整期望并发度接口的请求体。
type setConcurrencyRequest struct {
	Concurrency int `json:"concurrency" binding:"required"`
}

// Login 处理管理员登录请求，成功后返回访问令牌。
func (h *AdminHandler) Login(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username 和 password 为必填字段"})
		return
	}

	result, err := h.adminService.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "管理端登录未配置"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码错误"})
		default:
			log.Errorf("[AdminHandler] 管理员登录失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "登录失败"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// Status 返回 worker 运行状态与全库文档状态分布。
func (h *AdminHandler) Status(c *gin.Context) {
	status, err := h.adminService.Status(c.Request.Context())
	if err != nil {
		log.Errorf("[AdminHandler] 查询管理端状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询管理端状态失败"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// WorkerStatus 返回摄取 worker 的运行状态。
func (h *AdminHandler) WorkerStatus(c *gin.Context) {
	status, err := h.adminService.WorkerStatus(c.Request.Context())
	if err != nil {
		log.Errorf("[AdminHandler] 查询 worker 状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询 worker 状态失败"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetConcurrency 返回当前生效的期望并发度及其上限。
func (h *AdminHandler) GetConcurrency(c *gin.Context) {
	status, err := h.adminService.WorkerStatus(c.Request.Context())
	if err != nil {
		log.Errorf("[AdminHandler] 查询并发度失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询并发度失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"concurrency": status.Concurrency, "pool_size": status.PoolSize})
}

// PauseWorkers 暂停摄取 worker。
func (h *AdminHandler) PauseWorkers(c *gin.Context) {
	status, err := h.adminService.PauseWorkers(c.Request.Context())
	if err != nil {
		log.Errorf("[AdminHandler] 暂停 worker 失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "暂停 worker 失败"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ResumeWorkers 恢复摄取 worker。
func (h *AdminHandler) ResumeWorkers(c *gin.Context) {
	status, err := h.adminService.ResumeWorkers(c.Request.Context())
	if err != nil {
		log.Errorf("[AdminHandler] 恢复 worker 失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "恢复 worker 失败"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// SetConcurrency 调整摄取 worker 的期望并发度。
func (h *AdminHandler) SetConcurrency(c *gin.Context) {
	var req setConcurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concurrency 为必填的正整数"})
		return
	}
	if req.Concurrency < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concurrency 必须大于 0"})
		return
	}

	status, err := h.adminService.SetWorkerConcurrency(c.Request.Context(), req.Concurrency)
	if err != nil {
		log.Errorf("[AdminHandler] 调整并发度失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "调整并发度失败"})
		return
	}
	c.JSON(http.StatusOK, status)
}
