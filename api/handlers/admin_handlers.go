package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campus-cms/config"
	"campus-cms/core/auth"
	"campus-cms/core/rbac"
	"campus-cms/core/resource"
	"campus-cms/core/store"
	"campus-cms/core/uploads"
	"campus-cms/core/utils"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	cfg      *config.AppConfig
	cat      *resource.Catalogue
	engine   *resource.Engine
	csrf     *auth.CSRFManager
	policy   *rbac.Policy
	accounts store.AccountsStore
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewAdminHandler(cfg *config.AppConfig, cat *resource.Catalogue, engine *resource.Engine, csrf *auth.CSRFManager, policy *rbac.Policy, accounts store.AccountsStore, audits store.AuditStore, logger *utils.Logger) *AdminHandler {
	return &AdminHandler{cfg: cfg, cat: cat, engine: engine, csrf: csrf, policy: policy, accounts: accounts, audits: audits, logger: logger}
}

type identityView struct {
	ID                 int64  `json:"id"`
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	Role               string `json:"role"`
	Avatar             string `json:"avatar"`
	MustChangePassword bool   `json:"must_change_password"`
}

type resourceLink struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	CanCreate bool   `json:"can_create"`
}

type formView struct {
	Resource  string            `json:"resource"`
	Label     string            `json:"label"`
	Fields    []resource.Field  `json:"fields"`
	Record    resource.Record   `json:"record,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	CSRFToken string            `json:"csrf_token"`
	Flash     *Flash            `json:"flash,omitempty"`
}

func (h *AdminHandler) token(r *http.Request) string {
	st := State(r)
	if st.Session == nil {
		return ""
	}
	tok, err := h.csrf.Issue(r.Context(), st.Session.ID)
	if err != nil {
		h.logger.Errorf("issue csrf: %v", err)
	}
	return tok
}

func (h *AdminHandler) schema(w http.ResponseWriter, r *http.Request) (*resource.Schema, bool) {
	s, ok := h.cat.Get(chi.URLParam(r, "resource"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown resource")
		return nil, false
	}
	return s, true
}

func recordID(r *http.Request) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	st := State(r)
	sess := st.Session
	view := identityView{ID: sess.AdminID, Username: sess.Username, FullName: sess.FullName, Role: sess.Role, Avatar: sess.Avatar}
	if acc, err := h.accounts.Get(r.Context(), sess.AdminID); err == nil && acc != nil {
		view.MustChangePassword = acc.MustChangePassword
	}
	role, _ := rbac.ParseRole(sess.Role)
	links := []resourceLink{}
	for _, s := range h.cat.All() {
		if !h.policy.Allowed(role, s.Name, rbac.ActionView) {
			continue
		}
		links = append(links, resourceLink{Name: s.Name, Label: s.Label, CanCreate: h.policy.Allowed(role, s.Name, rbac.ActionCreate)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"admin":      view,
		"resources":  links,
		"audit":      h.policy.Allowed(role, resource.AuditResource, rbac.ActionView),
		"flash":      st.Flash,
		"csrf_token": h.token(r),
	})
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schema(w, r)
	if !ok {
		return
	}
	page, err := h.engine.List(r.Context(), s, resource.ParamsFromQuery(r.URL.Query()))
	if err != nil {
		h.storageFailure(w, r, "list", err)
		return
	}
	role, _ := rbac.ParseRole(State(r).Session.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":   s.Name,
		"label":      s.Label,
		"page":       page,
		"searchable": s.Searchable,
		"filters":    s.Filters,
		"can_create": !s.ReadOnly && h.policy.Allowed(role, s.Name, rbac.ActionCreate),
		"can_edit":   !s.ReadOnly && h.policy.Allowed(role, s.Name, rbac.ActionUpdate),
		"can_delete": !s.ReadOnly && h.policy.Allowed(role, s.Name, rbac.ActionDelete),
		"flash":      State(r).Flash,
		"csrf_token": h.token(r),
	})
}

func (h *AdminHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schema(w, r)
	if !ok {
		return
	}
	if s.ReadOnly {
		h.readOnly(w, r, s)
		return
	}
	writeJSON(w, http.StatusOK, formView{Resource: s.Name, Label: s.Label, Fields: s.Fields, CSRFToken: h.token(r), Flash: State(r).Flash})
}

func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schema(w, r)
	if !ok {
		return
	}
	sub, cleanup := submission(r, s)
	defer cleanup()
	rec, err := h.engine.Create(r.Context(), s, actor(r), sub)
	if err != nil {
		h.mutationFailed(w, r, s, sub, err)
		return
	}
	SetFlash(w, r, h.cfg, "success", s.Label+" entry created.")
	redirect(w, r, "/admin/"+s.Name+"/"+strconv.FormatInt(rec.ID(), 10)+"/edit")
}

func (h *AdminHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schema(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.Get(r.Context(), s, recordID(r))
	if err != nil {
		h.mutationFailed(w, r, s, resource.Submission{}, err)
		return
	}
	writeJSON(w, http.StatusOK, formView{Resource: s.Name, Label: s.Label, Fields: s.Fields, Record: rec, CSRFToken: h.token(r), Flash: State(r).Flash})
}

func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schema(w, r)
	if !ok {
		return
	}
	id := recordID(r)
	sub, cleanup := submission(r, s)
	defer cleanup()
	if _, err := h.engine.Update(r.Context(), s, actor(r), id, sub); err != nil {
		h.mutationFailed(w, r, s, sub, err)
		return
	}
	SetFlash(w, r, h.cfg, "success", s.Label+" entry updated.")
	redirect(w, r, "/admin/"+s.Name+"/"+strconv.FormatInt(id, 10)+"/edit")
}

func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schema(w, r)
	if !ok {
		return
	}
	id := recordID(r)
	if r.PostForm.Get("confirm") != "yes" {
		SetFlash(w, r, h.cfg, "warning", "Deletion was not confirmed.")
		redirect(w, r, "/admin/"+s.Name)
		return
	}
	if err := h.engine.Delete(r.Context(), s, actor(r), id); err != nil {
		h.mutationFailed(w, r, s, resource.Submission{}, err)
		return
	}
	SetFlash(w, r, h.cfg, "success", s.Label+" entry deleted.")
	redirect(w, r, "/admin/"+s.Name)
}

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Action:       strings.TrimSpace(q.Get("action")),
	}
	f.ActorID, _ = strconv.ParseInt(q.Get("actor_id"), 10, 64)
	f.ResourceID, _ = strconv.ParseInt(q.Get("resource_id"), 10, 64)
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if t, ok := parseTimeParam(q.Get("since")); ok {
		f.Since = &t
	}
	if t, ok := parseTimeParam(q.Get("until")); ok {
		f.Until = &t
	}
	entries, err := h.audits.Query(r.Context(), f)
	if err != nil {
		h.storageFailure(w, r, "audit", err)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parseTimeParam(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (h *AdminHandler) readOnly(w http.ResponseWriter, r *http.Request, s *resource.Schema) {
	SetFlash(w, r, h.cfg, "error", s.Label+" cannot be edited here.")
	redirect(w, r, "/admin/"+s.Name)
}

// mutationFailed maps engine errors onto responses. Validation failures
// re-render the form with every field error and a fresh token.
func (h *AdminHandler) mutationFailed(w http.ResponseWriter, r *http.Request, s *resource.Schema, sub resource.Submission, err error) {
	var verrs resource.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		view := formView{Resource: s.Name, Label: s.Label, Fields: s.Fields, Values: sub.Values, Errors: verrs, CSRFToken: h.token(r)}
		writeJSON(w, http.StatusUnprocessableEntity, view)
	case errors.Is(err, resource.ErrNotFound):
		SetFlash(w, r, h.cfg, "error", s.Label+" entry not found.")
		redirect(w, r, "/admin/"+s.Name)
	case errors.Is(err, resource.ErrReadOnly):
		h.readOnly(w, r, s)
	default:
		h.storageFailure(w, r, "mutate "+s.Name, err)
	}
}

func (h *AdminHandler) storageFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Errorf("%s: %v request_id=%s", op, err, State(r).RequestID)
	writeError(w, http.StatusInternalServerError, "something went wrong, please try again later")
}

func actor(r *http.Request) resource.Actor {
	sess := State(r).Session
	return resource.Actor{ID: sess.AdminID, Name: sess.Username}
}

// submission collects the parsed form; the csrf middleware already parsed it.
func submission(r *http.Request, s *resource.Schema) (resource.Submission, func()) {
	sub := resource.Submission{Values: map[string]string{}}
	for key, vals := range r.PostForm {
		if key == "csrf_token" || len(vals) == 0 {
			continue
		}
		sub.Values[key] = vals[0]
	}
	cleanup := func() {}
	ff := s.FileField()
	if ff == nil {
		return sub, cleanup
	}
	if v := r.PostForm.Get("remove_" + ff.Name); v == "1" || v == "on" || v == "yes" {
		sub.RemoveFile = true
	}
	if r.MultipartForm == nil {
		return sub, cleanup
	}
	file, header, err := r.FormFile(ff.Name)
	if err != nil {
		return sub, cleanup
	}
	sub.File = &uploads.Incoming{Filename: header.Filename, Body: file}
	return sub, func() { _ = file.Close() }
}
