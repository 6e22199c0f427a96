// Package handlers exposes the rebalancing optimizer over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/modules/rebalance"
)

// Handler serves optimization requests.
type Handler struct {
	optimizer *rebalance.Optimizer
	log       zerolog.Logger
}

// New creates an optimization handler.
func New(optimizer *rebalance.Optimizer, log zerolog.Logger) *Handler {
	return &Handler{
		optimizer: optimizer,
		log:       log.With().Str("component", "optimize_handlers").Logger(),
	}
}

// HandleOptimize solves one rebalancing instance: Problem record in,
// Solution record out. Malformed input is a 400; solver failures are a 200
// with the fallback Solution, since "do not rebalance" is a valid answer the
// caller must inspect via solver_status.
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var problem rebalance.Problem
	if err := json.NewDecoder(r.Body).Decode(&problem); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	solution, err := h.optimizer.Optimize(&problem)
	if err != nil {
		var vErr *rebalance.ValidationError
		if errors.As(err, &vErr) {
			h.writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		h.log.Error().Err(err).Msg("Optimization failed")
		h.writeError(w, http.StatusInternalServerError, "optimization failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(solution)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
