// Package model 定义了与数据库表对应的 Go 结构体。
package model

// ProgressEvent 是摄取进度事件的载荷，写入 Redis 缓存并通过频道广播。
// timestamp 为 RFC3339 格式的 UTC 时间。
type ProgressEvent struct {
	DocID       string `json:"doc_id"`
	TenantID    string `json:"tenant_id"`
	Scope       string `json:"scope"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
	Filename    string `json:"filename"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progress"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}

// VisibleTo 判断事件对给定的请求范围是否可见，
// 规则与文档查询、向量检索使用的范围谓词保持一致。
func (e ProgressEvent) VisibleTo(tenantID, workspaceID, principalID string) bool {
	if e.TenantID != tenantID {
		return false
	}
	switch e.Scope {
	case ScopeTenant:
		return true
	case ScopeWorkspace:
		return workspaceID != "" && e.WorkspaceID == workspaceID
	case ScopeUser:
		return workspaceID != "" && principalID != "" &&
			e.WorkspaceID == workspaceID && e.PrincipalID == principalID
	}
	return false
}
