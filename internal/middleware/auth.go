// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"rag-service-go/internal/config"

	"github.com/gin-gonic/gin"
)

// requestContextKey 是 RequestContext 在 Gin 上下文中的存放键。
const requestContextKey = "requestContext"

// RequestContext 描述一次已认证请求的租户归属与可见范围。
// WorkspaceID 与 PrincipalID 来自请求头，可以为空。
type RequestContext struct {
	TenantID    string
	WorkspaceID string
	PrincipalID string
}

// APIKeyAuth 创建一个 Gin 中间件，用于租户 API Key 认证。
// 它从 Authorization 头提取 Bearer Key 并映射到租户，
// 同时解析 X-Workspace-Id / X-Principal-Id 范围头，存入 Gin 上下文。
func APIKeyAuth(tenants []config.TenantKey) gin.HandlerFunc {
	byKey := make(map[string]string, len(tenants))
	for _, t := range tenants {
		if t.APIKey != "" {
			byKey[t.APIKey] = t.TenantID
		}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		apiKey := strings.TrimPrefix(authHeader, bearerPrefix)

		tenantID, ok := byKey[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的租户 API Key"})
			return
		}

		c.Set(requestContextKey, RequestContext{
			TenantID:    tenantID,
			WorkspaceID: strings.TrimSpace(c.GetHeader("X-Workspace-Id")),
			PrincipalID: strings.TrimSpace(c.GetHeader("X-Principal-Id")),
		})
		c.Next()
	}
}

// GetRequestContext 取出认证中间件写入的请求范围。
// 只应在 APIKeyAuth 之后的处理器中调用。
func GetRequestContext(c *gin.Context) RequestContext {
	if v, exists := c.Get(requestContextKey); exists {
		if ctx, ok := v.(RequestContext); ok {
			return ctx
		}
	}
	return RequestContext{}
}
