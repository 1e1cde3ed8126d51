package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/util"
)

// Pipelines holds one assembled admission pipeline per gated route. Stage
// order inside each pipeline is the admission contract: cheap network-level
// gates first, then schema, then per-wallet state.
type Pipelines struct {
	Validate    *admission.Pipeline
	Issue       *admission.Pipeline
	Transaction *admission.Pipeline
	Admin       *admission.Pipeline
}

// HealthFunc reports one dependency's health.
type HealthFunc func() error

// NewRouter creates and configures the chi router with all middleware and
// routes.
func NewRouter(
	tokenHandler *TokenHandler,
	adminHandler *AdminHandler,
	pipelines *Pipelines,
	health map[string]HealthFunc,
	logger *zap.Logger,
) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(health))

	router.Route("/api", func(r chi.Router) {
		r.Route("/token", func(r chi.Router) {
			r.Post("/validate", pipelines.Validate.Handler(tokenHandler.ValidateToken))
			r.Post("/issue", pipelines.Issue.Handler(tokenHandler.IssueToken))
			r.Get("/transaction/{txHash}", pipelines.Transaction.Handler(tokenHandler.TransactionStatus))
		})
		r.Route("/admin", func(r chi.Router) {
			r.Get("/security-events", pipelines.Admin.Handler(adminHandler.SecurityEvents))
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

// healthHandler probes every registered dependency and reports per-dependency
// status. Any failing probe degrades the overall status to 503.
func healthHandler(checks map[string]HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				deps[name] = "ok"
			}
		}

		body := map[string]interface{}{
			"status":  "healthy",
			"service": "mint-gateway",
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
