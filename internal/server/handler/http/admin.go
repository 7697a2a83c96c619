package http

import (
	"net/http"

	"github.com/atinyakov/ozon/internal/middleware"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler serves the maintenance endpoints. Every operation checks
// the admin flag of the session in the service layer.
type AdminHandler struct {
	Data DataService
	Log  *zap.Logger
}

// Import saves the records in the body verbatim, metadata included.
func (h *AdminHandler) Import(w http.ResponseWriter, r *http.Request) {
	var recs []models.Record
	if err := decodeBody(r, &recs); err != nil {
		writeError(w, h.Log, err)
		return
	}
	n, err := h.Data.ImportRaw(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"), recs)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// Clean hard-deletes the soft-deleted records of a model matching the
// optional filter.
func (h *AdminHandler) Clean(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	n, err := h.Data.CleanModel(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"), req.Filter)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Sweep removes every record past its retention, in all models.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	swept, err := h.Data.CleanAllToDelete(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, swept)
}
