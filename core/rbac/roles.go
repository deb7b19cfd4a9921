package rbac

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleEditor     Role = "editor"
	RoleViewer     Role = "viewer"
)

var allRoles = []Role{RoleSuperAdmin, RoleEditor, RoleViewer}

func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// ParseRole accepts only the closed set of roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionView, ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) Mutates() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// DefaultMatrix lists what each role may do on a resource that admits it.
func DefaultMatrix() map[Role][]Action {
	return map[Role][]Action{
		RoleSuperAdmin: {ActionView, ActionCreate, ActionUpdate, ActionDelete},
		RoleEditor:     {ActionView, ActionCreate, ActionUpdate, ActionDelete},
		RoleViewer:     {ActionView},
	}
}
