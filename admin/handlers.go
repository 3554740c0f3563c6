// Package admin serves the HTTP API used to register, inspect and remove
// triggers at runtime.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/maxpert/redisfeed/feed"
	"github.com/maxpert/redisfeed/trigger"
	"github.com/maxpert/redisfeed/validate"
	"github.com/rs/zerolog/log"
)

// Registry is the subset of feed.Registry used by the API
type Registry interface {
	Add(ctx context.Context, id string, details feed.Details) error
	Remove(ctx context.Context, id string) error
	Get(id string) (feed.Registration, bool)
	List() []feed.Registration
}

// TriggerStore persists trigger definitions across restarts
type TriggerStore interface {
	SaveTrigger(id string, details feed.Details) error
	DeleteTrigger(id string) error
}

// DisableTracker exposes the trigger manager's disable records
type DisableTracker interface {
	Enable(id string) bool
	IsDisabled(id string) (trigger.Disabled, bool)
	Disabled() []trigger.Disabled
}

// Config wires the API to the running service. Store may be nil.
type Config struct {
	Registry     Registry
	Store        TriggerStore
	Tracker      DisableTracker
	Prober       validate.Prober
	ProbeTimeout time.Duration
}

// Handlers implements the admin endpoints
type Handlers struct {
	registry     Registry
	store        TriggerStore
	tracker      DisableTracker
	prober       validate.Prober
	probeTimeout time.Duration
}

func NewHandlers(config Config) *Handlers {
	return &Handlers{
		registry:     config.Registry,
		store:        config.Store,
		tracker:      config.Tracker,
		prober:       config.Prober,
		probeTimeout: config.ProbeTimeout,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
