package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campus-cms/core/store"
	"campus-cms/core/utils"
)

type LoginInput struct {
	Handle    string
	Password  string
	CSRFToken string
	BindingID string
	IP        string
	UserAgent string
}

type LoginResult struct {
	Session *store.SessionRecord
	Admin   *store.Admin
}

type Authenticator struct {
	accounts store.AccountsStore
	sessions *SessionManager
	csrf     *CSRFManager
	limiter  *Limiter
	audit    store.AuditStore
	pepper   string
	logger   *utils.Logger
	events   Events
	now      func() time.Time
}

func NewAuthenticator(accounts store.AccountsStore, sessions *SessionManager, csrf *CSRFManager, limiter *Limiter, audit store.AuditStore, pepper string, logger *utils.Logger, events Events) *Authenticator {
	if events == nil {
		events = NopEvents{}
	}
	return &Authenticator{
		accounts: accounts,
		sessions: sessions,
		csrf:     csrf,
		limiter:  limiter,
		audit:    audit,
		pepper:   pepper,
		logger:   logger,
		events:   events,
		now:      time.Now,
	}
}

// Login runs CSRF, limiter, lookup, verify and success effects in that order.
func (a *Authenticator) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ok, err := a.csrf.Verify(ctx, in.BindingID, in.CSRFToken)
	if err != nil {
		return nil, fmt.Errorf("verify csrf: %w", err)
	}
	if !ok {
		a.events.CSRFFailure()
		a.events.LoginAttempt("invalid_token")
		a.logger.Security("csrf_failure", "path", "/login")
		return nil, ErrInvalidToken
	}

	id := a.limiter.Identifier(in.Handle, in.IP)
	decision, err := a.limiter.CheckAllowed(ctx, id)
	if err != nil {
		a.events.LoginAttempt("unavailable")
		return nil, err
	}
	if !decision.Allowed {
		a.events.LoginAttempt("locked_out")
		a.logger.Security("login_locked_out", "identifier", id, "retry_after", decision.RetryAfterSeconds())
		return nil, &LockedOutError{RetryAfter: decision.RetryAfter}
	}

	account, err := a.accounts.FindActiveByHandle(ctx, in.Handle)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	valid := false
	if account == nil {
		burnVerify(in.Password, a.pepper)
	} else {
		valid, err = VerifyPassword(in.Password, a.pepper, account.PasswordHash)
		if err != nil {
			a.logger.Errorf("password hash for admin %d unreadable: %v", account.ID, err)
			valid = false
		}
	}
	if !valid {
		if _, lerr := a.limiter.RecordFailure(ctx, id); lerr != nil && !errors.Is(lerr, ErrLimiterUnavailable) {
			a.logger.Errorf("record login failure: %v", lerr)
		}
		a.events.LoginAttempt("invalid_credentials")
		a.logger.Security("login_failure", "identifier", id)
		return nil, ErrInvalidCredentials
	}

	if err := a.limiter.Reset(ctx, id); err != nil {
		a.logger.Errorf("limiter reset after login failed: identifier=%s err=%v", id, err)
	}
	sess, err := a.sessions.Establish(ctx, account, in.IP, in.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}
	now := a.now().UTC()
	if err := a.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
		a.logger.Errorf("update last login for admin %d: %v", account.ID, err)
	}
	account.LastLoginAt = &now
	if err := a.audit.Append(ctx, &store.AuditEntry{
		ActorID:     account.ID,
		ActorName:   account.Username,
		Action:      "login",
		Description: "signed in from " + strings.TrimSpace(in.IP),
	}); err != nil {
		a.logger.Errorf("audit login for admin %d: %v", account.ID, err)
	}
	a.events.LoginAttempt("success")
	return &LoginResult{Session: sess, Admin: account}, nil
}

func (a *Authenticator) Logout(ctx context.Context, sess *store.SessionRecord) error {
	if sess == nil {
		return nil
	}
	if err := a.sessions.Destroy(ctx, sess); err != nil {
		return err
	}
	if err := a.audit.Append(ctx, &store.AuditEntry{
		ActorID:     sess.AdminID,
		ActorName:   sess.Username,
		Action:      "logout",
		Description: "signed out",
	}); err != nil {
		a.logger.Errorf("audit logout for admin %d: %v", sess.AdminID, err)
	}
	return nil
}
