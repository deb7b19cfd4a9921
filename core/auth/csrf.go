package auth

import (
	"context"
	"strings"
	"time"

	"campus-cms/core/store"
	"campus-cms/core/utils"
)

const csrfTokenBytes = 32

// CSRFManager keeps one server-side token per binding id (a session id or a
// pre-auth form cookie). Tokens are single-use: a successful Verify consumes it.
type CSRFManager struct {
	store store.CSRFStore
	ttl   time.Duration
	now   func() time.Time
}

func NewCSRFManager(st store.CSRFStore, ttl time.Duration, now func() time.Time) *CSRFManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &CSRFManager{store: st, ttl: ttl, now: now}
}

func (m *CSRFManager) TTL() time.Duration {
	return m.ttl
}

func (m *CSRFManager) Issue(ctx context.Context, bindingID string) (string, error) {
	existing, err := m.store.Get(ctx, bindingID)
	if err != nil {
		return "", err
	}
	now := m.now()
	if existing != nil && !m.expired(existing, now) {
		return existing.Token, nil
	}
	token, err := utils.RandURLString(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	if err := m.store.Save(ctx, &store.CSRFToken{BindingID: bindingID, Token: token, IssuedAt: now}); err != nil {
		return "", err
	}
	return token, nil
}

func (m *CSRFManager) Verify(ctx context.Context, bindingID, submitted string) (bool, error) {
	submitted = strings.TrimSpace(submitted)
	if bindingID == "" || submitted == "" {
		return false, nil
	}
	tok, err := m.store.Get(ctx, bindingID)
	if err != nil {
		return false, err
	}
	if tok == nil {
		return false, nil
	}
	if m.expired(tok, m.now()) {
		return false, m.store.Delete(ctx, bindingID)
	}
	if !utils.ConstantTimeEqualString(tok.Token, submitted) {
		return false, nil
	}
	return m.store.Consume(ctx, bindingID, tok.Token)
}

func (m *CSRFManager) Revoke(ctx context.Context, bindingID string) error {
	return m.store.Delete(ctx, bindingID)
}

func (m *CSRFManager) expired(tok *store.CSRFToken, now time.Time) bool {
	return now.Sub(tok.IssuedAt) > m.ttl
}
