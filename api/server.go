/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a browser frontend

ROUTE GROUPS:
  /projects/*     Containers, skills, dependencies, events, points
  /users/suggest  User ID suggestions
  /admin/*        Progress reconciliation
  /scenarios/*    Demo projects
  /metrics        Prometheus scrape endpoint
  /healthz        Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/skill-engine/logger"
)

// RouterOptions configures NewRouter. Empty CORSOrigins allows any origin.
type RouterOptions struct {
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Session-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.ListProjects)

		r.Route("/{projectId}", func(r chi.Router) {
			r.Post("/", h.CreateProject)

			r.Route("/subjects/{subjectId}", func(r chi.Router) {
				r.Post("/", h.CreateSubject)
				r.Get("/skills", h.ListSkills)
				r.Post("/skills/{skillId}", h.SaveSkill)
				r.Get("/skills/{skillId}", h.GetSkill)
			})

			r.Route("/skills", func(r chi.Router) {
				r.Get("/generate-id", h.GenerateID)
				r.Post("/{fromId}/dependency/{toId}", h.AssignDependency)
				r.Delete("/{fromId}/dependency/{toId}", h.RemoveDependency)
				r.Get("/{skillId}/dependencies", h.ListDependencies)
				r.Post("/{skillId}/events", h.RecordEvents)
				r.Get("/{skillId}/events/{userId}", h.GetProgress)
			})

			r.Get("/users/{userId}/points", h.GetUserPoints)
		})
	})

	r.Post("/users/suggest", h.SuggestUsers)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/reconcile", h.TriggerReconcile)
		r.Get("/drift/{projectId}", h.GetDrift)
	})

	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", h.ListScenarios)
		r.Post("/load", h.LoadScenario)
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
