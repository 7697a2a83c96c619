package http

import (
	"context"
	"net/http"

	"github.com/atinyakov/ozon/internal/middleware"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/repository"
	"github.com/atinyakov/ozon/internal/service"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// DataService defines the record operations required by RecordHandler
// and AdminHandler.
type DataService interface {
	Models(ctx context.Context) ([]string, error)
	SchemaModel(ctx context.Context, model string) (*service.ModelSchema, error)
	GetRecord(ctx context.Context, sess *models.Session, model, recName string) (models.Record, bool, error)
	List(ctx context.Context, sess *models.Session, model string, p service.ListParams) ([]models.Record, error)
	SaveRecord(ctx context.Context, sess *models.Session, model string, rec models.Record) (*repository.SaveResult, error)
	DeleteRecord(ctx context.Context, sess *models.Session, model, recName string) (models.Record, error)
	RestoreRecord(ctx context.Context, sess *models.Session, model, recName string) (models.Record, error)
	SetActive(ctx context.Context, sess *models.Session, model, recName string, active bool) (models.Record, error)
	Distinct(ctx context.Context, sess *models.Session, model string, p service.DistinctParams) ([]models.Record, error)
	Frequency(ctx context.Context, sess *models.Session, model string, p service.FrequencyParams) ([]models.Record, error)
	Count(ctx context.Context, sess *models.Session, model string, filter bson.M) (int64, error)
	Export(ctx context.Context, sess *models.Session, model string, p service.ExportParams) (*service.Export, error)
	Reorder(ctx context.Context, sess *models.Session, model string, items []service.OrderItem) (int, error)
	ImportRaw(ctx context.Context, sess *models.Session, model string, recs []models.Record) (int, error)
	CleanModel(ctx context.Context, sess *models.Session, model string, filter bson.M) (int64, error)
	CleanAllToDelete(ctx context.Context, sess *models.Session) (map[string]int64, error)
}

// RecordHandler serves model schemas and record CRUD.
type RecordHandler struct {
	Data DataService
	Log  *zap.Logger
}

// RecordResponse wraps a single record.
type RecordResponse struct {
	Record   models.Record `json:"record"`
	Editable bool          `json:"editable"`
}

// SaveResponse reports the outcome of a save.
type SaveResponse struct {
	Record  models.Record `json:"record"`
	Changed []string      `json:"changed"`
	Created bool          `json:"created"`
}

// DistinctRequest is the body of POST /api/distinct/{model}.
type DistinctRequest struct {
	Field  string `json:"field"`
	Filter bson.M `json:"filter"`
	Label  string `json:"label"`
}

// FrequencyRequest is the body of POST /api/freq/{model}.
type FrequencyRequest struct {
	Field         string   `json:"field"`
	Filter        bson.M   `json:"filter"`
	MinOccurrence int64    `json:"min_occurrence"`
	Dir           int      `json:"dir"`
	AddFields     []string `json:"add_fields"`
}

// ExportRequest is the body of POST /api/export/{model}. DataMode is
// "json" (default) or "value".
type ExportRequest struct {
	DataMode string `json:"data_mode"`
	Filter   bson.M `json:"filter"`
	Parent   string `json:"parent"`
}

// FilterRequest carries an optional filter.
type FilterRequest struct {
	Filter bson.M `json:"filter"`
}

// ReorderRequest is the body of POST /api/reorder.
type ReorderRequest struct {
	Model string              `json:"model"`
	Items []service.OrderItem `json:"items"`
}

func (h *RecordHandler) Models(w http.ResponseWriter, r *http.Request) {
	names, err := h.Data.Models(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// Schema returns the user-visible fields of a model.
func (h *RecordHandler) Schema(w http.ResponseWriter, r *http.Request) {
	s, err := h.Data.SchemaModel(r.Context(), chi.URLParam(r, "model"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// List returns records of a model. Query parameters: filter (JSON),
// sort ("field:dir,..."), type, skip, limit and deleted=true.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := filterParam(r, "filter")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	skip, err := intParam(r, "skip")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	q := r.URL.Query()
	recs, err := h.Data.List(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"), service.ListParams{
		Filter:         filter,
		Sort:           q.Get("sort"),
		Type:           q.Get("type"),
		Skip:           skip,
		Limit:          limit,
		IncludeDeleted: q.Get("deleted") == "true",
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if recs == nil {
		recs = []models.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, editable, err := h.Data.GetRecord(r.Context(), middleware.SessionFromContext(r.Context()),
		chi.URLParam(r, "model"), chi.URLParam(r, "rec_name"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: rec, Editable: editable})
}

// Save creates or updates the record in the body. On the
// /{model}/{rec_name} route the path name is used when the body has none.
func (h *RecordHandler) Save(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if len(rec) == 0 {
		writeError(w, h.Log, badRequest("empty record"))
		return
	}
	if name := chi.URLParam(r, "rec_name"); name != "" && rec.RecName() == "" {
		rec[models.KeyRecName] = name
	}

	res, err := h.Data.SaveRecord(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"), rec)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	changed := res.Changed
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, status, SaveResponse{Record: res.Record, Changed: changed, Created: res.Created})
}

// Delete soft-deletes a record.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Data.DeleteRecord(r.Context(), middleware.SessionFromContext(r.Context()),
		chi.URLParam(r, "model"), chi.URLParam(r, "rec_name"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: rec})
}

// Restore undoes a soft delete within the retention window.
func (h *RecordHandler) Restore(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Data.RestoreRecord(r.Context(), middleware.SessionFromContext(r.Context()),
		chi.URLParam(r, "model"), chi.URLParam(r, "rec_name"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: rec, Editable: true})
}

func (h *RecordHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *RecordHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *RecordHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	rec, err := h.Data.SetActive(r.Context(), middleware.SessionFromContext(r.Context()),
		chi.URLParam(r, "model"), chi.URLParam(r, "rec_name"), active)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: rec, Editable: true})
}

func (h *RecordHandler) Distinct(w http.ResponseWriter, r *http.Request) {
	var req DistinctRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	rows, err := h.Data.Distinct(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"),
		service.DistinctParams{Field: req.Field, Filter: req.Filter, Label: req.Label})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if rows == nil {
		rows = []models.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *RecordHandler) Frequency(w http.ResponseWriter, r *http.Request) {
	var req FrequencyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Field == "" {
		writeError(w, h.Log, badRequest("field is required"))
		return
	}
	rows, err := h.Data.Frequency(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"),
		service.FrequencyParams{
			Field:         req.Field,
			Filter:        req.Filter,
			MinOccurrence: req.MinOccurrence,
			Dir:           req.Dir,
			AddFields:     req.AddFields,
		})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if rows == nil {
		rows = []models.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *RecordHandler) Count(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	n, err := h.Data.Count(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"), req.Filter)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// Export dumps the records of a model.
func (h *RecordHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	out, err := h.Data.Export(r.Context(), middleware.SessionFromContext(r.Context()), chi.URLParam(r, "model"), service.ExportParams{
		Mode:   service.ExportMode(req.DataMode),
		Filter: req.Filter,
		Parent: req.Parent,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Reorder assigns list positions to records of one model.
func (h *RecordHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Model == "" {
		writeError(w, h.Log, badRequest("model is required"))
		return
	}
	n, err := h.Data.Reorder(r.Context(), middleware.SessionFromContext(r.Context()), req.Model, req.Items)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
