// Package middleware provides HTTP middlewares for session resolution and
// request logging.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/service"
	"go.uber.org/zap"
)

type ctxKey string

const sessionKey ctxKey = "session"

// SessionResolver turns the credentials of a request into a session.
type SessionResolver interface {
	Resolve(ctx context.Context, c service.Credentials) (*models.Session, error)
}

// WithSession resolves the session of every request and stores it in the
// request context. When the resolved token differs from the cookie the
// client sent (a fresh public session, for instance), the cookie is
// refreshed. Requests without a usable session are rejected with 401.
func WithSession(sessions SessionResolver, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := service.ExtractCredentials(r)
			s, err := sessions.Resolve(r.Context(), creds)
			switch {
			case errors.Is(err, models.ErrNoSession), errors.Is(err, models.ErrAuthentication):
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			case errors.Is(err, models.ErrStoreUnavailable):
				log.Error("session store unavailable", zap.Error(err))
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			case err != nil:
				log.Error("session resolution failed", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			if !s.IsAPI && s.Token != creds.Cookie {
				SetSessionCookie(w, s)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// SetSessionCookie hands the token of s to the client.
func SetSessionCookie(w http.ResponseWriter, s *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     service.TokenCookie,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpireDatetime,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the token cookie from the client.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     service.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func ContextWithSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by WithSession, or nil.
func SessionFromContext(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey).(*models.Session)
	return s
}
