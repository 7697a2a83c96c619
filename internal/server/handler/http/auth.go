package http

import (
	"context"
	"net/http"

	"github.com/atinyakov/ozon/internal/middleware"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/service"
	"go.uber.org/zap"
)

// Authenticator defines the login operations required by AuthHandler.
type Authenticator interface {
	// Login verifies uid and password and returns the user session,
	// reusing currentToken when it already belongs to the user.
	Login(ctx context.Context, uid, password, currentToken string) (*models.Session, error)
	Logout(ctx context.Context, s *models.Session) error
}

// SessionUpdater stores interaction state on a session.
type SessionUpdater interface {
	UpdateApp(ctx context.Context, s *models.Session, patch map[string]any) (*models.Session, error)
}

// AuthHandler handles login, logout and session state requests.
type AuthHandler struct {
	Auth     Authenticator
	Sessions SessionUpdater
	Log      *zap.Logger
}

// LoginRequest represents the JSON payload for login.
type LoginRequest struct {
	UID      string `json:"uid"`
	Password string `json:"password"`
}

// Login authenticates the user and sets the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.UID == "" || req.Password == "" {
		writeError(w, h.Log, badRequest("uid and password are required"))
		return
	}

	current := service.ExtractCredentials(r).Token()
	s, err := h.Auth.Login(r.Context(), req.UID, req.Password, current)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	middleware.SetSessionCookie(w, s)
	writeJSON(w, http.StatusOK, s)
}

// Logout closes the current session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if err := h.Auth.Logout(r.Context(), s); err != nil {
		writeError(w, h.Log, err)
		return
	}
	middleware.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Session returns the session of the caller, public or not.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		writeError(w, h.Log, models.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateApp merges the JSON object in the body into the session app state.
// A null value removes the key.
func (h *AuthHandler) UpdateApp(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if s == nil {
		writeError(w, h.Log, models.ErrNoSession)
		return
	}
	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, h.Log, err)
		return
	}
	updated, err := h.Sessions.UpdateApp(r.Context(), s, patch)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.App)
}
