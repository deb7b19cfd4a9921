package api

import (
	"net/http"

	"campus-cms/api/handlers"
	"campus-cms/core/auth"
	"campus-cms/core/rbac"
)

func (s *Server) registerRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.stateMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.securityHeadersMiddleware)

	authH := handlers.NewAuthHandler(s.cfg, s.authn, s.sessions, s.csrf, s.accounts, s.audits, s.logger)
	adminH := handlers.NewAdminHandler(s.cfg, s.catalogue, s.engine, s.csrf, s.policy, s.accounts, s.audits, s.logger)
	publicH := handlers.NewPublicHandler(s.catalogue, s.engine, s.files, s.logger)

	s.registerObservabilityRoutes()

	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
	})
	s.router.MethodFunc("GET", "/login", authH.LoginPage)
	s.router.With(s.loginRateLimit()).MethodFunc("POST", "/login", authH.Login)
	s.router.MethodFunc("POST", "/logout", s.requireSession(signedIn)(s.verifyCSRF(authH.Logout)))

	view := func(need func(*http.Request) auth.Requirement, h http.HandlerFunc) http.HandlerFunc {
		return s.requireSession(need)(h)
	}
	mutate := func(need func(*http.Request) auth.Requirement, h http.HandlerFunc) http.HandlerFunc {
		return s.requireSession(need)(s.verifyCSRF(h))
	}

	s.router.MethodFunc("GET", "/admin", view(signedIn, adminH.Dashboard))
	s.router.MethodFunc("POST", "/admin/password", mutate(signedIn, authH.ChangePassword))
	s.router.MethodFunc("GET", "/admin/audit", view(auditViewer, adminH.Audit))
	s.router.MethodFunc("GET", "/admin/{resource}", view(resourceAction(rbac.ActionView), adminH.List))
	s.router.MethodFunc("GET", "/admin/{resource}/create", view(resourceAction(rbac.ActionCreate), adminH.CreateForm))
	s.router.MethodFunc("POST", "/admin/{resource}/create", mutate(resourceAction(rbac.ActionCreate), adminH.Create))
	s.router.MethodFunc("GET", "/admin/{resource}/{id}/edit", view(resourceAction(rbac.ActionView), adminH.EditForm))
	s.router.MethodFunc("POST", "/admin/{resource}/{id}/edit", mutate(resourceAction(rbac.ActionUpdate), adminH.Update))
	s.router.MethodFunc("POST", "/admin/{resource}/{id}/delete", mutate(resourceAction(rbac.ActionDelete), adminH.Delete))

	s.router.MethodFunc("GET", "/api/public/{resource}", publicH.List)
	s.router.MethodFunc("GET", "/uploads/{name}", publicH.File)
}
