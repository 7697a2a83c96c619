package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atinyakov/ozon/internal/models"
	"go.uber.org/zap"
)

func TestStatusOf(t *testing.T) {
	verr := models.NewValidationError("widget")
	verr.Add("name", "required")

	tests := []struct {
		err  error
		code int
	}{
		{verr, http.StatusBadRequest},
		{badRequest("nope"), http.StatusBadRequest},
		{fmt.Errorf("widget w1: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: gadget", models.ErrUnknownModel), http.StatusNotFound},
		{models.ErrConflict, http.StatusConflict},
		{models.ErrAuthentication, http.StatusUnauthorized},
		{models.ErrNoSession, http.StatusUnauthorized},
		{models.ErrAuthorization, http.StatusForbidden},
		{models.ErrAdminRequired, http.StatusForbidden},
		{fmt.Errorf("find: %w", models.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: limit is 16 bytes", errBodyTooLarge), http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.code {
			t.Errorf("statusOf(%v) = %d; want %d", tt.err, got, tt.code)
		}
	}
}

func TestWriteError_ValidationFields(t *testing.T) {
	verr := models.NewValidationError("widget")
	verr.Add("name", "required")

	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop(), fmt.Errorf("save: %w", verr))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Fields["name"] != "required" {
		t.Errorf("expected field detail, got %+v", body)
	}
}

func TestWriteError_HidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, zap.NewNop(), errors.New("dial tcp 10.0.0.1:27017: refused"))

	var body errorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != "internal error" {
		t.Errorf("expected generic message, got %q", body.Error)
	}
}

func TestDecodeBody_ExactIntegers(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/records/widget", strings.NewReader(`{"size": 9007199254740993, "ratio": 0.5}`))
	var rec models.Record
	if err := decodeBody(req, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := rec.Int("size"); got != 9007199254740993 {
		t.Errorf("size = %d; want 9007199254740993", got)
	}
	if f, ok := models.AsFloat(rec["ratio"]); !ok || f != 0.5 {
		t.Errorf("ratio = %v; want 0.5", rec["ratio"])
	}
}

func TestDecodeBody_TooLarge(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/import/widget", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)

	var rec models.Record
	err := decodeBody(req, &rec)
	if got := statusOf(err); got != http.StatusRequestEntityTooLarge {
		t.Errorf("statusOf(%v) = %d; want 413", err, got)
	}
}
