package rbac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db_rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRoleTable(t *testing.T) {
	path := writeRules(t, testRules)

	table, err := LoadRoleTable(path)
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())

	role, ok := table.ByLevel(50)
	require.True(t, ok)
	assert.Equal(t, "Moderator", role.Name)
	assert.True(t, role.Allows("kick_user"))
	assert.False(t, role.Allows("manage_users"))

	_, ok = table.ByLevel(51)
	assert.False(t, ok)
}

func TestLoadRoleTableMissingFile(t *testing.T) {
	_, err := LoadRoleTable(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadRoleTableInvalidJSON(t *testing.T) {
	path := writeRules(t, `{"roles": [`)
	_, err := LoadRoleTable(path)
	assert.Error(t, err)
}

func TestLoadRoleTableRejectsUnnamedRole(t *testing.T) {
	path := writeRules(t, `{"roles": [{"level": 0, "actions": []}]}`)
	_, err := LoadRoleTable(path)
	assert.Error(t, err)
}

func TestLoadRoleTableRejectsDuplicateLevels(t *testing.T) {
	path := writeRules(t, `{"roles": [
		{"level": 10, "name": "A", "actions": []},
		{"level": 10, "name": "B", "actions": []}
	]}`)
	_, err := LoadRoleTable(path)
	assert.ErrorContains(t, err, "duplicate role level")
}

func TestWildcardRoleAllowsEverything(t *testing.T) {
	role := Role{Level: 100, Name: "SuperAdmin", Actions: []string{"*"}}
	assert.True(t, role.Allows("anything_at_all"))
}
