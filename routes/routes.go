package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lumetrace/lumetrace/app"
	"github.com/lumetrace/lumetrace/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB.DB, deps.Logger)
	promptHandler := handlers.NewPromptHandler(deps.Registry, deps.Tracer, deps.Logger)
	traceHandler := handlers.NewTraceHandler(deps.Collector, deps.Logger)
	authHandler := handlers.NewAuthHandler(deps.Validator, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Token exchange takes Basic credentials directly
		r.Post("/auth/token", authHandler.HandleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Get("/auth/check", authHandler.HandleAuthCheck)

			// Prompt registry
			r.Route("/prompts", func(r chi.Router) {
				r.Get("/", promptHandler.HandleListPrompts)
				r.Post("/", promptHandler.HandleCreatePrompt)
				r.Get("/{name}", promptHandler.HandleGetPrompt)
				r.Get("/{name}/exists", promptHandler.HandleExistsPrompt)
				r.Put("/{name}/versions/{version}/labels", promptHandler.HandleUpdateLabels)
				r.Post("/{name}/compile", promptHandler.HandleCompilePrompt)
			})

			// Trace collection
			r.Route("/traces", func(r chi.Router) {
				r.Post("/spans", traceHandler.HandleIngestSpans)
				r.Get("/{traceID}", traceHandler.HandleGetTrace)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
