package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/mkravets/vidprep/internal/api/middleware"
	"github.com/mkravets/vidprep/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler   http.HandlerFunc
	SubmitHandler   http.HandlerFunc
	ListHandler     http.HandlerFunc
	StatusHandler   http.HandlerFunc
	ResultHandler   http.HandlerFunc
	DownloadHandler http.HandlerFunc
	CancelHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Rate-limited job routes
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/videos", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/videos", orNotImplemented(deps.ListHandler))
		r.Get("/api/v1/videos/{jobID}", orNotImplemented(deps.StatusHandler))
		r.Get("/api/v1/videos/{jobID}/result", orNotImplemented(deps.ResultHandler))
		r.Get("/api/v1/videos/{jobID}/download", orNotImplemented(deps.DownloadHandler))
		r.Post("/api/v1/videos/{jobID}/cancel", orNotImplemented(deps.CancelHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
