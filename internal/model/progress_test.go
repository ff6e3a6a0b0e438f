package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressEventVisibleTo(t *testing.T) {
	cases := []struct {
		name        string
		event       ProgressEvent
		tenantID    string
		workspaceID string
		principalID string
		want        bool
	}{
		{
			name:     "租户不匹配一律不可见",
			event:    ProgressEvent{TenantID: "tenant-a", Scope: ScopeTenant},
			tenantID: "tenant-b",
			want:     false,
		},
		{
			name:     "租户级事件对全租户可见",
			event:    ProgressEvent{TenantID: "tenant-a", Scope: ScopeTenant},
			tenantID: "tenant-a",
			want:     true,
		},
		{
			name:        "租户级事件不要求工作区",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: ScopeTenant},
			tenantID:    "tenant-a",
			workspaceID: "ws-1",
			want:        true,
		},
		{
			name:        "工作区级事件要求工作区一致",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: ScopeWorkspace, WorkspaceID: "ws-1"},
			tenantID:    "tenant-a",
			workspaceID: "ws-1",
			want:        true,
		},
		{
			name:        "工作区级事件拒绝其他工作区",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: ScopeWorkspace, WorkspaceID: "ws-1"},
			tenantID:    "tenant-a",
			workspaceID: "ws-2",
			want:        false,
		},
		{
			name:     "工作区级事件要求请求方带工作区",
			event:    ProgressEvent{TenantID: "tenant-a", Scope: ScopeWorkspace, WorkspaceID: "ws-1"},
			tenantID: "tenant-a",
			want:     false,
		},
		{
			name:        "用户级事件要求工作区与用户都一致",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: ScopeUser, WorkspaceID: "ws-1", PrincipalID: "user-9"},
			tenantID:    "tenant-a",
			workspaceID: "ws-1",
			principalID: "user-9",
			want:        true,
		},
		{
			name:        "用户级事件拒绝其他用户",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: ScopeUser, WorkspaceID: "ws-1", PrincipalID: "user-9"},
			tenantID:    "tenant-a",
			workspaceID: "ws-1",
			principalID: "user-7",
			want:        false,
		},
		{
			name:        "用户级事件要求请求方带用户标识",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: ScopeUser, WorkspaceID: "ws-1", PrincipalID: "user-9"},
			tenantID:    "tenant-a",
			workspaceID: "ws-1",
			want:        false,
		},
		{
			name:        "未知范围一律不可见",
			event:       ProgressEvent{TenantID: "tenant-a", Scope: "department", WorkspaceID: "ws-1"},
			tenantID:    "tenant-a",
			workspaceID: "ws-1",
			principalID: "user-9",
			want:        false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.event.VisibleTo(tc.tenantID, tc.workspaceID, tc.principalID)
			assert.Equal(t, tc.want, got)
		})
	}
}
