// Package ops serves the operational sidecar endpoints: liveness,
// version, and a status page with storage diagnostics and janitor stats.
// Agent data operations are deliberately not exposed here.
package ops

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/notify"
	"github.com/meshvault/meshvault/internal/retention"
	"github.com/meshvault/meshvault/internal/storage"
)

// NewRouter builds the ops HTTP surface.
func NewRouter(cfg *config.Config, eng *storage.Engine, janitor *retention.Janitor, registry *notify.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(bindEngine(eng))

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.Get("/status", statusHandler(janitor, registry))

	return r
}

// bindEngine scopes the storage engine to each request. Handlers resolve
// it from the request context, so an outer wrapper can rebind a different
// engine per tenant without rebuilding the router.
func bindEngine(eng *storage.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(storage.WithEngine(r.Context(), eng)))
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	eng, ok := storage.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "no storage engine bound",
		})
		return
	}
	h := eng.Health(r.Context())
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": cfg.Version,
			"service": "meshvault",
		})
	}
}

func statusHandler(janitor *retention.Janitor, registry *notify.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := storage.FromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "no storage engine bound",
			})
			return
		}
		status := map[string]interface{}{
			"health": eng.Health(r.Context()),
		}
		if version, err := eng.SchemaVersion(r.Context()); err == nil {
			status["schema_version"] = version
		}
		if registry != nil {
			status["subscriptions"] = registry.Len()
		}
		if janitor != nil {
			if stats, ok := janitor.LastCycle(); ok {
				status["last_retention_cycle"] = map[string]interface{}{
					"memory_purged":       stats.MemoryPurged,
					"audit_purged":        stats.AuditPurged,
					"sessions_purged":     stats.SessionsPurged,
					"tokens_purged":       stats.TokensPurged,
					"subscriptions_swept": stats.SubscriptionsSwept,
					"elapsed_ms":          stats.Elapsed.Milliseconds(),
					"errors":              len(stats.Errors),
				}
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
