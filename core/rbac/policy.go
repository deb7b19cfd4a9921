package rbac

import (
	"sort"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Exact membership: a role holds a capability only if it was granted directly.
const capabilityModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

type Grant struct {
	Role     Role
	Resource string
	Action   Action
}

type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.SyncedEnforcer
	grants   []Grant
}

func NewPolicy(grants []Grant) (*Policy, error) {
	p := &Policy{}
	if err := p.Replace(grants); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) Replace(grants []Grant) error {
	m, err := model.NewModelFromString(capabilityModel)
	if err != nil {
		return err
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return err
	}
	kept := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if !g.Role.Valid() {
			continue
		}
		added, err := e.AddPolicy(string(g.Role), g.Resource, string(g.Action))
		if err != nil {
			return err
		}
		if added {
			kept = append(kept, g)
		}
	}
	p.mu.Lock()
	p.enforcer = e
	p.grants = kept
	p.mu.Unlock()
	return nil
}

func (p *Policy) Allowed(role Role, resource string, action Action) bool {
	if p == nil || !role.Valid() {
		return false
	}
	p.mu.RLock()
	e := p.enforcer
	p.mu.RUnlock()
	if e == nil {
		return false
	}
	ok, err := e.Enforce(string(role), resource, string(action))
	return err == nil && ok
}

// Resources returns the sorted resources on which role may perform action.
func (p *Policy) Resources(role Role, action Action) []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, g := range p.grants {
		if g.Role == role && g.Action == action {
			out = append(out, g.Resource)
		}
	}
	sort.Strings(out)
	return out
}
