package handlers

import (
	"net/http"

	"campus-cms/core/resource"
	"campus-cms/core/uploads"
	"campus-cms/core/utils"
	"github.com/go-chi/chi/v5"
)

// PublicHandler serves the read-only site API and uploaded files.
type PublicHandler struct {
	cat    *resource.Catalogue
	engine *resource.Engine
	files  uploads.Storage
	logger *utils.Logger
}

func NewPublicHandler(cat *resource.Catalogue, engine *resource.Engine, files uploads.Storage, logger *utils.Logger) *PublicHandler {
	return &PublicHandler{cat: cat, engine: engine, files: files, logger: logger}
}

func (h *PublicHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.cat.Get(chi.URLParam(r, "resource"))
	if !ok || s.Public == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	params := resource.ParamsFromQuery(r.URL.Query())
	params.Public = true
	page, err := h.engine.List(r.Context(), s, params)
	if err != nil {
		h.logger.Errorf("public list %s: %v", s.Name, err)
		writeError(w, http.StatusInternalServerError, "please try again later")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *PublicHandler) File(w http.ResponseWriter, r *http.Request) {
	p, err := h.files.Path(chi.URLParam(r, "name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, p)
}
