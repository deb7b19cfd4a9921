package api

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"campus-cms/api/handlers"
	"campus-cms/core/auth"
	"campus-cms/core/rbac"
	"campus-cms/core/resource"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gofrs/uuid/v5"
)

// formMemory is how much of a multipart body is buffered before spilling to disk.
const formMemory = 8 << 20

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.logger != nil {
					s.logger.Errorf("panic %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// stateMiddleware assigns the request id and attaches the request state,
// consuming any flash cookie that came with the request.
func (s *Server) stateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		st := &handlers.RequestState{RequestID: id, Flash: handlers.ReadFlash(w, r, s.cfg)}
		next.ServeHTTP(w, r.WithContext(handlers.WithState(r.Context(), st)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		st := handlers.State(r)
		user := "-"
		if st.Session != nil {
			user = st.Session.Username
		}
		s.logger.Request(r.Method, r.URL.Path, user, rec.status, time.Since(start).Milliseconds(), rec.size, st.RequestID)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; object-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		if s.cfg.TLSEnabled {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loginRateLimit() func(http.Handler) http.Handler {
	limit := s.cfg.Security.LoginRatePerMinute
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return handlers.ClientIP(r, s.cfg), nil
		}),
	)
}

// requireSession resolves the session cookie through the gate. The
// requirement is computed per request so resource routes can use the URL.
func (s *Server) requireSession(need func(r *http.Request) auth.Requirement) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(handlers.SessionCookieName); err == nil {
				id = c.Value
			}
			req := need(r)
			sess, err := s.gate.Authorize(r.Context(), id, req)
			switch {
			case errors.Is(err, auth.ErrNotAuthenticated):
				handlers.RememberPath(w, r, s.cfg)
				if r.Method != http.MethodGet {
					handlers.SetFlash(w, r, s.cfg, "error", "Your session has expired, please sign in again.")
				}
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			case errors.Is(err, auth.ErrForbidden):
				handlers.State(r).Session = sess
				handlers.SetFlash(w, r, s.cfg, "error", "You do not have access to that page.")
				s.logger.Security("access_denied", "admin_id", sess.AdminID, "role", sess.Role, "resource", req.Resource, "action", string(req.Action))
				writeJSONPlain(w, http.StatusForbidden, map[string]any{"error": auth.ErrForbidden.Error(), "redirect": "/admin"})
				return
			case err != nil:
				s.logger.Errorf("authorize %s %s: %v", r.Method, r.URL.Path, err)
				writeJSONPlain(w, http.StatusInternalServerError, map[string]any{"error": "please try again later"})
				return
			}
			handlers.State(r).Session = sess
			handlers.RefreshSessionCookie(w, r, s.cfg, sess.ID, s.sessions.Lifetime())
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		}
	}
}

// verifyCSRF parses the form under the upload size cap and checks the
// session-bound token. A token is consumed by a successful check.
func (s *Server) verifyCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := handlers.State(r).Session
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Uploads.MaxBytes+(1<<20))
		var err error
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			err = r.ParseMultipartForm(formMemory)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONPlain(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "the upload is too large"})
				return
			}
			writeJSONPlain(w, http.StatusBadRequest, map[string]any{"error": "bad request"})
			return
		}
		token := r.PostForm.Get("csrf_token")
		if token == "" {
			token = r.Header.Get("X-CSRF-Token")
		}
		ok, err := s.csrf.Verify(r.Context(), sess.ID, token)
		if err != nil {
			s.logger.Errorf("verify csrf: %v", err)
			writeJSONPlain(w, http.StatusInternalServerError, map[string]any{"error": "please try again later"})
			return
		}
		if !ok {
			s.metrics.CSRFFailure()
			s.logger.Security("csrf_failure", "admin_id", sess.AdminID, "path", r.URL.Path)
			fresh, _ := s.csrf.Issue(r.Context(), sess.ID)
			writeJSONPlain(w, http.StatusForbidden, map[string]any{"error": auth.ErrInvalidToken.Error(), "csrf_token": fresh})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func signedIn(*http.Request) auth.Requirement {
	return auth.Requirement{}
}

func resourceAction(action rbac.Action) func(r *http.Request) auth.Requirement {
	return func(r *http.Request) auth.Requirement {
		return auth.Requirement{Resource: chi.URLParam(r, "resource"), Action: action}
	}
}

func auditViewer(*http.Request) auth.Requirement {
	return auth.Requirement{Resource: resource.AuditResource, Action: rbac.ActionView, Roles: []rbac.Role{rbac.RoleSuperAdmin}}
}
