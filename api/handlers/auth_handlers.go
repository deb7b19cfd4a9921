package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"campus-cms/config"
	"campus-cms/core/auth"
	"campus-cms/core/store"
	"campus-cms/core/utils"
)

type AuthHandler struct {
	cfg      *config.AppConfig
	authn    *auth.Authenticator
	sessions *auth.SessionManager
	csrf     *auth.CSRFManager
	accounts store.AccountsStore
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, authn *auth.Authenticator, sessions *auth.SessionManager, csrf *auth.CSRFManager, accounts store.AccountsStore, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, authn: authn, sessions: sessions, csrf: csrf, accounts: accounts, audits: audits, logger: logger}
}

type loginView struct {
	CSRFToken         string `json:"csrf_token"`
	Error             string `json:"error,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Flash             *Flash `json:"flash,omitempty"`
}

// preAuthBinding returns the caller's pre-login binding id, minting one when
// the cookie is missing or malformed.
func (h *AuthHandler) preAuthBinding(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(PreAuthCookieName); err == nil && len(c.Value) == 43 {
		return c.Value, nil
	}
	id, err := utils.RandURLString(32)
	if err != nil {
		return "", err
	}
	setCookie(w, r, h.cfg, PreAuthCookieName, id, h.csrf.TTL())
	return id, nil
}

func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		if sess, err := h.sessions.Resolve(r.Context(), c.Value); err == nil && sess != nil {
			redirect(w, r, "/admin")
			return
		}
	}
	h.renderLogin(w, r, http.StatusOK, loginView{Flash: State(r).Flash})
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, view loginView) {
	binding, err := h.preAuthBinding(w, r)
	if err == nil {
		view.CSRFToken, err = h.csrf.Issue(r.Context(), binding)
	}
	if err != nil {
		h.logger.Errorf("login form token: %v", err)
		writeError(w, http.StatusInternalServerError, "please try again later")
		return
	}
	writeJSON(w, status, view)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	binding := ""
	if c, err := r.Cookie(PreAuthCookieName); err == nil {
		binding = c.Value
	}
	handle := r.PostForm.Get("username")
	if handle == "" {
		handle = r.PostForm.Get("username_or_email")
	}
	res, err := h.authn.Login(r.Context(), auth.LoginInput{
		Handle:    handle,
		Password:  r.PostForm.Get("password"),
		CSRFToken: r.PostForm.Get("csrf_token"),
		BindingID: binding,
		IP:        ClientIP(r, h.cfg),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.loginFailed(w, r, err)
		return
	}
	_ = h.csrf.Revoke(r.Context(), binding)
	clearCookie(w, r, h.cfg, PreAuthCookieName)
	setCookie(w, r, h.cfg, SessionCookieName, res.Session.ID, h.sessions.Lifetime())
	next := "/admin"
	if c, err := r.Cookie(NextCookieName); err == nil && safeNext(c.Value) {
		next = c.Value
	}
	clearCookie(w, r, h.cfg, NextCookieName)
	if res.Admin.MustChangePassword {
		SetFlash(w, r, h.cfg, "warning", "Please change your password.")
	}
	redirect(w, r, next)
}

func (h *AuthHandler) loginFailed(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedOutError
	switch {
	case errors.As(err, &locked):
		secs := locked.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		h.renderLogin(w, r, http.StatusTooManyRequests, loginView{Error: locked.Error(), RetryAfterSeconds: secs})
	case errors.Is(err, auth.ErrInvalidToken):
		h.renderLogin(w, r, http.StatusForbidden, loginView{Error: auth.ErrInvalidToken.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.renderLogin(w, r, http.StatusUnauthorized, loginView{Error: auth.ErrInvalidCredentials.Error()})
	case errors.Is(err, auth.ErrLimiterUnavailable):
		h.renderLogin(w, r, http.StatusServiceUnavailable, loginView{Error: auth.ErrLimiterUnavailable.Error()})
	default:
		h.logger.Errorf("login: %v", err)
		h.renderLogin(w, r, http.StatusInternalServerError, loginView{Error: "please try again later"})
	}
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authn.Logout(r.Context(), State(r).Session); err != nil {
		h.logger.Errorf("logout: %v", err)
	}
	clearCookie(w, r, h.cfg, SessionCookieName)
	SetFlash(w, r, h.cfg, "info", "You have been signed out.")
	redirect(w, r, "/login")
}

// ChangePassword replaces the caller's own password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := State(r).Session
	account, err := h.accounts.Get(r.Context(), sess.AdminID)
	if err != nil || account == nil {
		if err != nil {
			h.logger.Errorf("change password lookup: %v", err)
		}
		writeError(w, http.StatusInternalServerError, "please try again later")
		return
	}
	current := r.PostForm.Get("current_password")
	next := r.PostForm.Get("new_password")
	ok, err := auth.VerifyPassword(current, h.cfg.Pepper, account.PasswordHash)
	if err != nil || !ok {
		h.renderPasswordError(w, r, sess, map[string]string{"current_password": "is incorrect"})
		return
	}
	if err := utils.ValidatePassword(next); err != nil {
		h.renderPasswordError(w, r, sess, map[string]string{"new_password": err.Error()})
		return
	}
	if strings.TrimSpace(r.PostForm.Get("confirm_password")) != next {
		h.renderPasswordError(w, r, sess, map[string]string{"confirm_password": "does not match"})
		return
	}
	hash, err := auth.HashPassword(next, h.cfg.Pepper)
	if err == nil {
		err = h.accounts.UpdatePassword(r.Context(), account.ID, hash, false)
	}
	if err != nil {
		h.logger.Errorf("change password: %v", err)
		writeError(w, http.StatusInternalServerError, "please try again later")
		return
	}
	if err := h.audits.Append(r.Context(), &store.AuditEntry{
		ActorID:      account.ID,
		ActorName:    account.Username,
		Action:       "password_change",
		ResourceType: "admins",
		ResourceID:   account.ID,
		Description:  "changed own password",
	}); err != nil {
		h.logger.Errorf("audit password change: %v", err)
	}
	SetFlash(w, r, h.cfg, "success", "Password updated.")
	redirect(w, r, "/admin")
}

func (h *AuthHandler) renderPasswordError(w http.ResponseWriter, r *http.Request, sess *store.SessionRecord, errs map[string]string) {
	token, err := h.csrf.Issue(r.Context(), sess.ID)
	if err != nil {
		h.logger.Errorf("issue csrf: %v", err)
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs, "csrf_token": token})
}
