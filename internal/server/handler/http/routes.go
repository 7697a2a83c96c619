package http

import (
	"net/http"

	"github.com/atinyakov/ozon/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP handler serving the runtime API.
//
// Routes:
//
//	POST   /api/login                     → authHandler.Login
//	POST   /api/logout                    → authHandler.Logout
//	GET    /api/session                   → authHandler.Session
//	POST   /api/session/app               → authHandler.UpdateApp
//	GET    /api/models                    → recordHandler.Models
//	GET    /api/models/{model}            → recordHandler.Schema
//	GET    /api/records/{model}           → recordHandler.List
//	POST   /api/records/{model}           → recordHandler.Save
//	GET    /api/records/{model}/{rec_name} → recordHandler.Get
//	POST   /api/records/{model}/{rec_name} → recordHandler.Save
//	DELETE /api/records/{model}/{rec_name} → recordHandler.Delete
//	POST   /api/records/{model}/{rec_name}/restore  → recordHandler.Restore
//	POST   /api/records/{model}/{rec_name}/archive  → recordHandler.Archive
//	POST   /api/records/{model}/{rec_name}/activate → recordHandler.Activate
//	POST   /api/distinct/{model}          → recordHandler.Distinct
//	POST   /api/freq/{model}              → recordHandler.Frequency
//	POST   /api/count/{model}             → recordHandler.Count
//	POST   /api/export/{model}            → recordHandler.Export
//	POST   /api/reorder                   → recordHandler.Reorder
//	POST   /api/import/{model}            → adminHandler.Import
//	POST   /api/clean/{model}             → adminHandler.Clean
//	POST   /api/sweep                     → adminHandler.Sweep
//
// Every /api request passes through session resolution; which paths may
// run on a public session is decided by the session resolver.
func NewRouter(
	authHandler *AuthHandler,
	recordHandler *RecordHandler,
	adminHandler *AdminHandler,
	sessions middleware.SessionResolver,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(chiMiddleware.RequestSize(MaxBodyBytes))
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.WithSession(sessions, logger))

		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/session", authHandler.Session)
		r.Post("/session/app", authHandler.UpdateApp)

		r.Get("/models", recordHandler.Models)
		r.Get("/models/{model}", recordHandler.Schema)

		r.Route("/records/{model}", func(r chi.Router) {
			r.Get("/", recordHandler.List)
			r.Post("/", recordHandler.Save)
			r.Get("/{rec_name}", recordHandler.Get)
			r.Post("/{rec_name}", recordHandler.Save)
			r.Delete("/{rec_name}", recordHandler.Delete)
			r.Post("/{rec_name}/restore", recordHandler.Restore)
			r.Post("/{rec_name}/archive", recordHandler.Archive)
			r.Post("/{rec_name}/activate", recordHandler.Activate)
		})

		r.Post("/distinct/{model}", recordHandler.Distinct)
		r.Post("/freq/{model}", recordHandler.Frequency)
		r.Post("/count/{model}", recordHandler.Count)
		r.Post("/export/{model}", recordHandler.Export)
		r.Post("/reorder", recordHandler.Reorder)

		r.Post("/import/{model}", adminHandler.Import)
		r.Post("/clean/{model}", adminHandler.Clean)
		r.Post("/sweep", adminHandler.Sweep)
	})

	return r
}
