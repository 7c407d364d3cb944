package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"labhub/internal/auth"
)

// RouterOptions carries the cross-cutting middleware the router mounts
// around the API. Metrics and RateLimit are optional.
type RouterOptions struct {
	JWTSecret      string
	MetricsHandler http.Handler
	Metrics        func(http.Handler) http.Handler
	RateLimit      func(http.Handler) http.Handler
}

func NewRouter(s *Server, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics)
	}

	r.Get("/api/labhub/health", s.handleHealth)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		r.Post("/api/labhub/auth/login", s.handleLogin)
	})

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(auth.JWTAuthMiddleware(opts.JWTSecret))
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}

		r.Get("/api/labhub/auth/me", s.handleMe)

		r.Get("/api/labhub/devices", s.handleDeviceList)
		r.Post("/api/labhub/devices", s.handleDeviceCreate)
		r.Get("/api/labhub/devices/{id}", s.handleDeviceGet)
		r.Patch("/api/labhub/devices/{id}", s.handleDeviceRename)
		r.Delete("/api/labhub/devices/{id}", s.handleDeviceDelete)
		r.Put("/api/labhub/devices/{id}/type", s.handleDeviceSetType)
		r.Get("/api/labhub/devices/{id}/options", s.handleDeviceOptions)
		r.Patch("/api/labhub/devices/{id}/options", s.handleDeviceOptionsEdit)
		r.Post("/api/labhub/devices/{id}/options/refresh", s.handleDeviceOptionsRefresh)
		r.Get("/api/labhub/devices/{id}/commands", s.handleDeviceCommands)
		r.Post("/api/labhub/devices/{id}/commands/{commandID}", s.handleDeviceRunCommand)

		r.Get("/api/labhub/experiments", s.handleExperimentList)
		r.Post("/api/labhub/experiments", s.handleExperimentCreate)
		r.Get("/api/labhub/experiments/{id}", s.handleExperimentGet)
		r.Post("/api/labhub/experiments/{id}/start", s.handleExperimentStart)
		r.Post("/api/labhub/experiments/{id}/stop", s.handleExperimentStop)
		r.Post("/api/labhub/experiments/{id}/archive", s.handleExperimentArchive)
		r.Delete("/api/labhub/experiments/{id}", s.handleExperimentDelete)

		r.Get("/api/labhub/acquisition-configurations", s.handleConfigurationList)
		r.Post("/api/labhub/acquisition-configurations", s.handleConfigurationCreate)
		r.Patch("/api/labhub/acquisition-configurations/{id}", s.handleConfigurationPatch)

		r.Get("/api/labhub/storage/sessions/{sessionID}/items", s.handleStorageItems)

		r.Get("/api/labhub/live", s.handleLive)

		// Admin surface.
		r.Group(func(r chi.Router) {
			r.Use(auth.AdminOnlyMiddleware)
			r.Get("/api/labhub/users", s.handleUserList)
			r.Post("/api/labhub/users", s.handleUserCreate)
			r.Delete("/api/labhub/users/{id}", s.handleUserDelete)
			r.Get("/api/labhub/users/{id}/authorized-resources", s.handleAuthorizedResourcesGet)
			r.Put("/api/labhub/users/{id}/authorized-resources", s.handleAuthorizedResourcesSet)
		})
	})

	return r
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
