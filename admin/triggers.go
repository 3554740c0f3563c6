package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/glob"
	"github.com/maxpert/redisfeed/feed"
	"github.com/maxpert/redisfeed/trigger"
	"github.com/maxpert/redisfeed/validate"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

type triggerView struct {
	feed.Registration
	Disabled *trigger.Disabled `json:"disabled,omitempty"`
}

func (h *Handlers) view(reg feed.Registration) triggerView {
	out := triggerView{Registration: reg}
	if h.tracker != nil {
		if rec, ok := h.tracker.IsDisabled(reg.ID); ok {
			out.Disabled = &rec
		}
	}
	return out
}

// handleList handles GET /triggers. An optional "match" query parameter
// filters ids with a glob pattern.
func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	var matcher glob.Glob
	if pattern := r.URL.Query().Get("match"); pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid match pattern: "+err.Error())
			return
		}
		matcher = g
	}

	regs := h.registry.List()
	result := make([]triggerView, 0, len(regs))
	for _, reg := range regs {
		if matcher != nil && !matcher.Match(reg.ID) {
			continue
		}
		result = append(result, h.view(reg))
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// handleGet handles GET /triggers/{id}
func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reg, ok := h.registry.Get(id)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "trigger not found: "+id)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.view(reg))
}

// handlePut handles PUT /triggers/{id}. The body is a JSON object of trigger
// parameters (url, subscribe|psubscribe|stream, cert, cert_format).
func (h *Handlers) handlePut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var params validate.Params
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&params); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	probeCtx := r.Context()
	if h.probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(probeCtx, h.probeTimeout)
		defer cancel()
	}

	details, err := validate.Validate(probeCtx, params, h.prober)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			writeErrorResponse(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, existed := h.registry.Get(id)

	if err := h.registry.Add(r.Context(), id, details); err != nil {
		log.Warn().Err(err).Str("trigger", id).Msg("Failed to add trigger")
		writeErrorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	if h.store != nil {
		if err := h.store.SaveTrigger(id, details); err != nil {
			log.Error().Err(err).Str("trigger", id).Msg("Failed to persist trigger")
			if rerr := h.registry.Remove(r.Context(), id); rerr != nil {
				log.Warn().Err(rerr).Str("trigger", id).Msg("Failed to roll back trigger")
			}
			writeErrorResponse(w, http.StatusInternalServerError, "failed to persist trigger")
			return
		}
	}

	if h.tracker != nil {
		h.tracker.Enable(id)
	}

	reg, _ := h.registry.Get(id)
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, h.view(reg))
}

// handleDelete handles DELETE /triggers/{id}
func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := h.registry.Get(id); !ok {
		writeErrorResponse(w, http.StatusNotFound, "trigger not found: "+id)
		return
	}

	if err := h.registry.Remove(r.Context(), id); err != nil {
		log.Warn().Err(err).Str("trigger", id).Msg("Trigger removed with errors")
	}
	if h.store != nil {
		if err := h.store.DeleteTrigger(id); err != nil {
			log.Error().Err(err).Str("trigger", id).Msg("Failed to forget trigger")
			writeErrorResponse(w, http.StatusInternalServerError, "failed to forget trigger")
			return
		}
	}
	if h.tracker != nil {
		h.tracker.Enable(id)
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"id": id, "removed": true})
}

// handleDisabled handles GET /triggers/disabled
func (h *Handlers) handleDisabled(w http.ResponseWriter, r *http.Request) {
	result := []trigger.Disabled{}
	if h.tracker != nil {
		result = append(result, h.tracker.Disabled()...)
	}
	writeJSONResponse(w, http.StatusOK, result)
}
