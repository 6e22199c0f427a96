package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/rebalancer/internal/modules/backtest"
	"github.com/aristath/rebalancer/internal/modules/tuning"
)

// BacktestHandlers serves backtest runs, run history and grid tuning.
type BacktestHandlers struct {
	backtests *backtest.Service
	results   *backtest.Repository
	tuner     *tuning.Service
	log       zerolog.Logger
}

// NewBacktestHandlers creates the backtest handler set.
func NewBacktestHandlers(backtests *backtest.Service, results *backtest.Repository, tuner *tuning.Service, log zerolog.Logger) *BacktestHandlers {
	return &BacktestHandlers{
		backtests: backtests,
		results:   results,
		tuner:     tuner,
		log:       log.With().Str("component", "backtest_handlers").Logger(),
	}
}

// RegisterRoutes mounts the backtest and tuning endpoints.
func (h *BacktestHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/backtest", func(r chi.Router) {
		r.Post("/", h.HandleRun)
		r.Get("/stream", h.HandleStream)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{runID}", h.HandleGetRun)
	})
	r.Route("/tuning", func(r chi.Router) {
		// Grid searches multiply backtest cost; give them a long leash.
		r.Use(middleware.Timeout(30 * time.Minute))
		r.Post("/", h.HandleTune)
	})
}

// HandleRun executes a backtest synchronously and returns the summary.
// POST /api/backtest
func (h *BacktestHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	summary, err := h.backtests.Run(r.Context(), &req, backtest.KindBacktest, nil)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleStream runs a backtest over a websocket, pushing one progress frame
// per processed date and a final summary frame.
// GET /api/backtest/stream
func (h *BacktestHandlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	// The client opens with the backtest request as its first message.
	var req backtest.Request
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}

	type frame struct {
		Type     string               `json:"type"`
		Progress *backtest.Progress   `json:"progress,omitempty"`
		Summary  *backtest.RunSummary `json:"summary,omitempty"`
		Error    string               `json:"error,omitempty"`
	}

	summary, err := h.backtests.Run(ctx, &req, backtest.KindBacktest, func(p backtest.Progress) {
		if err := wsjson.Write(ctx, conn, frame{Type: "progress", Progress: &p}); err != nil {
			h.log.Debug().Err(err).Msg("Progress write failed, client likely gone")
		}
	})
	if err != nil {
		_ = wsjson.Write(ctx, conn, frame{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusNormalClosure, "backtest failed")
		return
	}

	if err := wsjson.Write(ctx, conn, frame{Type: "summary", Summary: summary}); err != nil {
		h.log.Debug().Err(err).Msg("Summary write failed")
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// HandleListRuns returns recent run summaries.
// GET /api/backtest/runs?limit=20
func (h *BacktestHandlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := h.results.Runs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []backtest.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun returns one run with its per-date decisions.
// GET /api/backtest/runs/{runID}
func (h *BacktestHandlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.results.Run(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	records, err := h.results.Records(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":     run,
		"records": records,
	})
}

// tuneRequest is the wire shape of a grid search request.
type tuneRequest struct {
	Request backtest.Request `json:"request"`
	Grid    tuning.Grid      `json:"grid"`
}

// HandleTune runs a grid search and returns the scored report.
// POST /api/tuning
func (h *BacktestHandlers) HandleTune(w http.ResponseWriter, r *http.Request) {
	var req tuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := h.tuner.Search(r.Context(), &req.Request, &req.Grid)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
