package rbac

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// RoleTable is the immutable level → role mapping loaded at startup.
type RoleTable struct {
	byLevel map[int]Role
}

type rulesFile struct {
	Roles []Role `json:"roles" validate:"required,dive"`
}

// LoadRoleTable reads and validates the rules file. Any failure here is a
// non-recoverable startup error: the process must not run with an unknown
// role table.
func LoadRoleTable(path string) (*RoleTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read rules file %s: %w", path, err)
	}
	var file rulesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("rbac: parse rules file %s: %w", path, err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("rbac: invalid rules file %s: %w", path, err)
	}
	byLevel := make(map[int]Role, len(file.Roles))
	for _, role := range file.Roles {
		if _, ok := byLevel[role.Level]; ok {
			return nil, fmt.Errorf("rbac: duplicate role level %d in %s", role.Level, path)
		}
		byLevel[role.Level] = role
	}
	return &RoleTable{byLevel: byLevel}, nil
}

// ByLevel returns the role registered for an exact level.
func (t *RoleTable) ByLevel(level int) (Role, bool) {
	role, ok := t.byLevel[level]
	return role, ok
}

// Len returns the number of defined roles.
func (t *RoleTable) Len() int {
	return len(t.byLevel)
}
