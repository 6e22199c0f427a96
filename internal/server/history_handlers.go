package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/modules/scenarios"
)

// HistoryHandlers ingests daily return rows into the scenario history store,
// so fetchers can push data over HTTP instead of writing the sqlite file.
type HistoryHandlers struct {
	history *scenarios.Repository
	log     zerolog.Logger
}

// NewHistoryHandlers creates the history handler set.
func NewHistoryHandlers(history *scenarios.Repository, log zerolog.Logger) *HistoryHandlers {
	return &HistoryHandlers{
		history: history,
		log:     log.With().Str("component", "history_handlers").Logger(),
	}
}

// RegisterRoutes mounts the history ingestion endpoints.
func (h *HistoryHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Post("/{symbol}", h.HandleImport)
		r.Get("/{symbol}/latest", h.HandleLatestDate)
	})
}

type importResponse struct {
	Symbol     string `json:"symbol"`
	Imported   int    `json:"imported"`
	LatestDate string `json:"latest_date"`
}

// HandleImport upserts a batch of daily returns for one symbol. Rows for
// dates already present are overwritten.
// POST /api/history/{symbol}
func (h *HistoryHandlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var points []scenarios.ReturnPoint
	if err := json.NewDecoder(r.Body).Decode(&points); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(points) == 0 {
		writeError(w, http.StatusBadRequest, "no return rows provided")
		return
	}
	for _, p := range points {
		if _, err := time.Parse("2006-01-02", p.Date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date "+p.Date+": expected YYYY-MM-DD")
			return
		}
	}

	if err := h.history.UpsertReturns(symbol, points); err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Return import failed")
		writeError(w, http.StatusInternalServerError, "failed to store returns")
		return
	}

	latest, err := h.history.LatestDate(symbol)
	if err != nil {
		h.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read latest date after import")
	}

	h.log.Info().Str("symbol", symbol).Int("rows", len(points)).Msg("Imported return history")
	writeJSON(w, http.StatusOK, importResponse{
		Symbol:     symbol,
		Imported:   len(points),
		LatestDate: latest,
	})
}

// HandleLatestDate reports the most recent stored date for a symbol, so
// fetchers can resume incrementally.
// GET /api/history/{symbol}/latest
func (h *HistoryHandlers) HandleLatestDate(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	latest, err := h.history.LatestDate(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Latest date lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if latest == "" {
		writeError(w, http.StatusNotFound, "no history for symbol "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "latest_date": latest})
}
