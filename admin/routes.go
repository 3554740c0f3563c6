package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/redisfeed/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API. /metrics is mounted only when Prometheus
// is enabled.
func NewRouter(handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/triggers", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Get("/", handlers.handleList)
		r.Get("/disabled", handlers.handleDisabled)
		r.Get("/{id}", handlers.handleGet)
		r.Put("/{id}", handlers.handlePut)
		r.Delete("/{id}", handlers.handleDelete)
	})

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	log.Info().Msg("Admin endpoints enabled at /triggers")
	return r
}
