/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Logger:     One zap line per request
  5. CORS:       Cross-origin requests for the payroll UI
  6. RateLimit:  Per-IP token bucket (calculations run on every keystroke)

ROUTE GROUPS:
  /api/payroll/*        Calculate, finalize, payslip history
  /api/ytd/*            Year-to-date totals
  /api/jurisdictions/*  Jurisdiction profiles
  /api/plans/*          Retirement plans
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness and store ping
  /*                    Static files (frontend)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging and rate limiting
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the middleware settings. Zero values disable the rate
// limiter and fall back to the local development origins.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	StaticDir      string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = h.Logger
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		r.Use(NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
	}

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/payroll", func(r chi.Router) {
			r.Post("/calculate", h.Calculate)
			r.Post("/finalize", h.Finalize)
			r.Get("/payslips/{subject}", h.ListPayslips)
		})

		r.Get("/ytd/{subject}/{year}", h.GetYTD)

		r.Route("/jurisdictions", func(r chi.Router) {
			r.Get("/", h.ListJurisdictions)
			r.Get("/{region}/{subregion}", h.GetJurisdiction)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/reset", h.ResetDatabase)
			r.Post("/{id}/run", h.RunScenario)
		})
	})

	if dir := staticDir(cfg.StaticDir); dir != "" {
		fileServer := http.FileServer(http.Dir(dir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(dir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	}

	return r
}

// staticDir returns the built frontend directory, or "" when there is none.
// It tries dir, then ./web/dist, then web/dist next to the executable.
func staticDir(dir string) string {
	candidates := []string{dir, "./web/dist"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "web", "dist"))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return ""
}
