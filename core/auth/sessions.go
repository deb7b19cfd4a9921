package auth

import (
	"context"
	"time"

	"campus-cms/core/store"
	"campus-cms/core/utils"
)

const sessionIDBytes = 32

type SessionManager struct {
	store    store.SessionStore
	csrf     *CSRFManager
	lifetime time.Duration
	now      func() time.Time
}

func NewSessionManager(st store.SessionStore, csrf *CSRFManager, lifetime time.Duration, now func() time.Time) *SessionManager {
	if lifetime <= 0 {
		lifetime = 2 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: st, csrf: csrf, lifetime: lifetime, now: now}
}

func (m *SessionManager) Lifetime() time.Duration {
	return m.lifetime
}

// Establish always mints a fresh id; a pre-auth id is never promoted.
func (m *SessionManager) Establish(ctx context.Context, admin *store.Admin, ip, userAgent string) (*store.SessionRecord, error) {
	id, err := utils.RandURLString(sessionIDBytes)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	sess := &store.SessionRecord{
		ID:           id,
		AdminID:      admin.ID,
		Username:     admin.Username,
		FullName:     admin.FullName,
		Role:         admin.Role,
		Avatar:       admin.Avatar,
		IP:           ip,
		UserAgent:    truncate(userAgent, 255),
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *SessionManager) Touch(ctx context.Context, sess *store.SessionRecord) error {
	now := m.now().UTC()
	if err := m.store.Touch(ctx, sess.ID, now); err != nil {
		return err
	}
	sess.LastActivity = now
	return nil
}

func (m *SessionManager) IsExpired(sess *store.SessionRecord) bool {
	return m.now().Sub(sess.LastActivity) > m.lifetime
}

// Destroy removes the session row and the CSRF token bound to it.
func (m *SessionManager) Destroy(ctx context.Context, sess *store.SessionRecord) error {
	if sess == nil {
		return nil
	}
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		return err
	}
	if m.csrf != nil {
		return m.csrf.Revoke(ctx, sess.ID)
	}
	return nil
}

// Resolve returns nil for unknown ids and for sessions that expired, which are destroyed.
func (m *SessionManager) Resolve(ctx context.Context, id string) (*store.SessionRecord, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := m.store.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	if m.IsExpired(sess) {
		if err := m.Destroy(ctx, sess); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
