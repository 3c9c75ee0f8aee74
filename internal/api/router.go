package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/sreeram-v/crashdeck/internal/api/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	IngestHandler http.HandlerFunc

	ListGroupsHandler        http.HandlerFunc
	GetGroupHandler          http.HandlerFunc
	UpdateGroupStatusHandler http.HandlerFunc
	DeleteGroupHandler       http.HandlerFunc
	ListGroupCrashesHandler  http.HandlerFunc

	GetCrashHandler     http.HandlerFunc
	RetraceCrashHandler http.HandlerFunc

	UploadMappingHandler    http.HandlerFunc
	UpdateVersionHandler    http.HandlerFunc
	TriggerReconcileHandler http.HandlerFunc
	PollJobHandler          http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", deps.HealthHandler)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("ingest"))

			r.Post("/api/v1/crashes", deps.IngestHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("read"))

			r.Get("/api/v1/groups", deps.ListGroupsHandler)
			r.Get("/api/v1/groups/{groupID}", deps.GetGroupHandler)
			r.Patch("/api/v1/groups/{groupID}", deps.UpdateGroupStatusHandler)
			r.Delete("/api/v1/groups/{groupID}", deps.DeleteGroupHandler)
			r.Get("/api/v1/groups/{groupID}/crashes", deps.ListGroupCrashesHandler)

			r.Get("/api/v1/crashes/{crashID}", deps.GetCrashHandler)
			r.Post("/api/v1/crashes/{crashID}/retrace", deps.RetraceCrashHandler)
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Put("/api/v1/admin/versions/{versionCode}/mapping", deps.UploadMappingHandler)
			r.Patch("/api/v1/admin/versions/{versionCode}", deps.UpdateVersionHandler)
			r.Post("/api/v1/admin/reconcile", deps.TriggerReconcileHandler)
			r.Get("/api/v1/admin/reconcile/{jobID}", deps.PollJobHandler)
		})
	})

	return r
}
