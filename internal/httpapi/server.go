package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns the control surface for s.
func NewRouter(s Simulator) http.Handler {
	r := chi.NewRouter()

	// shared middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	// attach routes
	registerRoutes(r, s)

	return r
}
