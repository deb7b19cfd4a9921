package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"campus-cms/config"
	"campus-cms/core/store"
)

const (
	SessionCookieName = "cms_session"
	PreAuthCookieName = "cms_preauth"
	FlashCookieName   = "cms_flash"
	NextCookieName    = "cms_next"

	flashMaxAge = 60
	nextMaxAge  = 600
)

// Flash is a one-shot message carried to the next request.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RequestState is the per-request context: who is calling and what flash
// message arrived with the request. Middleware fills it; handlers read it.
type RequestState struct {
	RequestID string
	Session   *store.SessionRecord
	Flash     *Flash
}

type stateKey struct{}

func WithState(ctx context.Context, st *RequestState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// State never returns nil so handlers can read it unconditionally.
func State(r *http.Request) *RequestState {
	if st, ok := r.Context().Value(stateKey{}).(*RequestState); ok && st != nil {
		return st
	}
	return &RequestState{}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// SetFlash must be called before the response header is written.
func SetFlash(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, kind, msg string) {
	raw, _ := json.Marshal(Flash{Kind: kind, Message: msg})
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		Secure:   isSecureRequest(r, cfg),
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadFlash decodes the flash cookie and schedules its removal.
func ReadFlash(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig) *Flash {
	c, err := r.Cookie(FlashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	clearCookie(w, r, cfg, FlashCookieName)
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var f Flash
	if err := json.Unmarshal(raw, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}

func setCookie(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   isSecureRequest(r, cfg),
		SameSite: http.SameSiteLaxMode,
	})
}

// RefreshSessionCookie re-issues the session cookie so its lifetime slides
// with the server-side idle timeout.
func RefreshSessionCookie(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, id string, lifetime time.Duration) {
	setCookie(w, r, cfg, SessionCookieName, id, lifetime)
}

func clearCookie(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r, cfg),
		SameSite: http.SameSiteLaxMode,
	})
}

// RememberPath stores where an unauthenticated visitor was heading.
func RememberPath(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig) {
	if r.Method != http.MethodGet {
		return
	}
	if p := r.URL.RequestURI(); safeNext(p) {
		setCookie(w, r, cfg, NextCookieName, p, nextMaxAge*time.Second)
	}
}

// safeNext only accepts local admin paths.
func safeNext(p string) bool {
	return strings.HasPrefix(p, "/admin") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\") && !strings.ContainsAny(p, "\r\n")
}

func isSecureRequest(r *http.Request, cfg *config.AppConfig) bool {
	if r != nil && r.TLS != nil {
		return true
	}
	if cfg == nil {
		return false
	}
	if cfg.TLSEnabled {
		return true
	}
	if !isTrustedProxy(remoteHost(r), cfg.Security.TrustedProxies) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func remoteHost(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	return strings.TrimSpace(ip)
}

// ClientIP trusts X-Forwarded-For and X-Real-IP only from configured proxies.
// Forwarded chains are read right to left so a client cannot choose its own address.
func ClientIP(r *http.Request, cfg *config.AppConfig) string {
	ip := remoteHost(r)
	if cfg == nil || !isTrustedProxy(ip, cfg.Security.TrustedProxies) {
		return ip
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if candidate := clientIPFromXFF(xff, cfg.Security.TrustedProxies); candidate != "" {
			return candidate
		}
	}
	if parsed := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); parsed != nil {
		return parsed.String()
	}
	return ip
}

func clientIPFromXFF(xff string, trusted []string) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		parsed := net.ParseIP(strings.TrimSpace(parts[i]))
		if parsed == nil {
			continue
		}
		val := parsed.String()
		if !isTrustedProxy(val, trusted) {
			return val
		}
	}
	return ""
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range trusted {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			if _, block, err := net.ParseCIDR(val); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(val)) {
			return true
		}
	}
	return false
}
