package es

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterParts(t *testing.T, f map[string]interface{}) (must, should []map[string]interface{}) {
	t.Helper()
	boolClause, ok := f["bool"].(map[string]interface{})
	require.True(t, ok)
	must, ok = boolClause["must"].([]map[string]interface{})
	require.True(t, ok)
	should, ok = boolClause["should"].([]map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, boolClause["minimum_should_match"])
	return must, should
}

func TestBuildScopeFilterTenantCaller(t *testing.T) {
	f := BuildScopeFilter("tenant-a", "", "")

	must, should := filterParts(t, f)
	require.Len(t, must, 1)
	assert.Equal(t, "tenant-a", must[0]["term"].(map[string]interface{})["tenant_id"])

	// 不带 workspace 的调用方只能看到租户级 chunk
	require.Len(t, should, 1)
	assert.Equal(t, "tenant", should[0]["term"].(map[string]interface{})["scope"])
}

func TestBuildScopeFilterWorkspaceCaller(t *testing.T) {
	f := BuildScopeFilter("tenant-a", "ws-1", "")

	_, should := filterParts(t, f)
	require.Len(t, should, 2)

	wsMust := should[1]["bool"].(map[string]interface{})["must"].([]map[string]interface{})
	require.Len(t, wsMust, 2)
	assert.Equal(t, "workspace", wsMust[0]["term"].(map[string]interface{})["scope"])
	assert.Equal(t, "ws-1", wsMust[1]["term"].(map[string]interface{})["workspace_id"])
}

func TestBuildScopeFilterUserCaller(t *testing.T) {
	f := BuildScopeFilter("tenant-a", "ws-1", "user-9")

	_, should := filterParts(t, f)
	require.Len(t, should, 3)

	userMust := should[2]["bool"].(map[string]interface{})["must"].([]map[string]interface{})
	require.Len(t, userMust, 3)
	assert.Equal(t, "user", userMust[0]["term"].(map[string]interface{})["scope"])
	assert.Equal(t, "ws-1", userMust[1]["term"].(map[string]interface{})["workspace_id"])
	assert.Equal(t, "user-9", userMust[2]["term"].(map[string]interface{})["principal_id"])
}

func TestBuildScopeFilterIgnoresPrincipalWithoutWorkspace(t *testing.T) {
	f := BuildScopeFilter("tenant-a", "", "user-9")

	_, should := filterParts(t, f)
	assert.Len(t, should, 1)
}
