package auth

import (
	"context"

	"campus-cms/core/rbac"
	"campus-cms/core/store"
)

// Requirement is empty for "any signed-in admin".
type Requirement struct {
	Resource string
	Action   rbac.Action
	Roles    []rbac.Role
}

type Gate struct {
	sessions *SessionManager
	policy   *rbac.Policy
}

func NewGate(sessions *SessionManager, policy *rbac.Policy) *Gate {
	return &Gate{sessions: sessions, policy: policy}
}

func (g *Gate) Policy() *rbac.Policy {
	return g.policy
}

func (g *Gate) Authorize(ctx context.Context, sessionID string, req Requirement) (*store.SessionRecord, error) {
	sess, err := g.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	if !g.Permits(sess, req) {
		return sess, ErrForbidden
	}
	if err := g.sessions.Touch(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Permits applies exact role membership; it never consults the target record.
func (g *Gate) Permits(sess *store.SessionRecord, req Requirement) bool {
	role, err := rbac.ParseRole(sess.Role)
	if err != nil {
		return false
	}
	if len(req.Roles) > 0 {
		member := false
		for _, r := range req.Roles {
			if r == role {
				member = true
				break
			}
		}
		if !member {
			return false
		}
	}
	if req.Resource != "" {
		action := req.Action
		if action == "" {
			action = rbac.ActionView
		}
		return g.policy.Allowed(role, req.Resource, action)
	}
	return true
}
