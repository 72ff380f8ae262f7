// Package handlers provides HTTP handlers for the live session workflow.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/croupier/internal/clients/predictor"
	"github.com/aristath/croupier/internal/modules/session"
	"github.com/aristath/croupier/internal/modules/stats"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler provides HTTP handlers for session endpoints
type Handler struct {
	service *session.Service
	stats   *stats.Service
	log     zerolog.Logger
}

// NewHandler creates a new session handler
func NewHandler(service *session.Service, statsService *stats.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		stats:   statsService,
		log:     log.With().Str("handler", "session").Logger(),
	}
}

// RegisterRoutes registers session routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/start", h.HandleStart)
		r.Get("/current", h.HandleCurrent)
		r.Post("/current/step", h.HandleStep)
		r.Post("/current/bet", h.HandleBet)
		r.Get("/current/prediction", h.HandlePrediction)
		r.Post("/current/note", h.HandleNote)
		r.Post("/current/recompute", h.HandleRecompute)
		r.Post("/current/rows/clear", h.HandleClearRows)
		r.Put("/current/rows/{rowID}", h.HandleEditRow)
		r.Delete("/current/rows/{rowID}", h.HandleDeleteRow)
		r.Post("/current/stop", h.HandleStop)
		r.Get("/current/stats", h.HandleStats)
		r.Get("/current/chart", h.HandleChart)
		r.Get("/{sessionID}", h.HandleGet)
	})
}

type startRequest struct {
	Checkpoint  string `json:"checkpoint"`
	DatasetID   int64  `json:"dataset_id"`
	DatasetName string `json:"dataset_name"`
	GameCapital int    `json:"game_capital"`
	GameBet     int    `json:"game_bet"`
}

// HandleStart handles POST /api/sessions/start
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Checkpoint == "" {
		writeDetail(w, http.StatusBadRequest, "checkpoint is required")
		return
	}
	if req.DatasetID < 1 {
		writeDetail(w, http.StatusBadRequest, "dataset_id is required")
		return
	}
	if req.GameCapital < 1 || req.GameBet < 1 {
		writeDetail(w, http.StatusBadRequest, "game_capital and game_bet must be at least 1")
		return
	}

	state, err := h.service.Start(r.Context(), req.Checkpoint, req.DatasetID, req.DatasetName, req.GameCapital, req.GameBet)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// HandleCurrent handles GET /api/sessions/current
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Current()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleList handles GET /api/sessions
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := h.service.List(limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// HandleGet handles GET /api/sessions/{sessionID}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.service.Get(sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if state == nil {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type stepRequest struct {
	Extraction int `json:"extraction"`
}

// HandleStep handles POST /api/sessions/current/step
func (h *Handler) HandleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := h.service.SubmitStep(r.Context(), req.Extraction)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type betRequest struct {
	BetAmount int `json:"bet_amount"`
}

// HandleBet handles POST /api/sessions/current/bet
func (h *Handler) HandleBet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BetAmount < 1 {
		writeDetail(w, http.StatusBadRequest, "bet_amount must be at least 1")
		return
	}

	state, err := h.service.UpdateBet(r.Context(), req.BetAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandlePrediction handles GET /api/sessions/current/prediction
func (h *Handler) HandlePrediction(w http.ResponseWriter, r *http.Request) {
	prediction, err := h.service.NextPrediction(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

type noteRequest struct {
	Note string `json:"note"`
}

// HandleNote handles POST /api/sessions/current/note
func (h *Handler) HandleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := h.service.SetNote(req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type editRowRequest struct {
	Extraction int `json:"extraction"`
}

// HandleEditRow handles PUT /api/sessions/current/rows/{rowID}
func (h *Handler) HandleEditRow(w http.ResponseWriter, r *http.Request) {
	rowID := chi.URLParam(r, "rowID")

	var req editRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := h.service.EditStep(r.Context(), rowID, req.Extraction)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleDeleteRow handles DELETE /api/sessions/current/rows/{rowID}
func (h *Handler) HandleDeleteRow(w http.ResponseWriter, r *http.Request) {
	rowID := chi.URLParam(r, "rowID")

	state, err := h.service.DeleteStep(r.Context(), rowID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleRecompute handles POST /api/sessions/current/recompute
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Recompute(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleClearRows handles POST /api/sessions/current/rows/clear
func (h *Handler) HandleClearRows(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.ClearRows(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleStop handles POST /api/sessions/current/stop
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Stop(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if state == nil {
		// Nothing was running; stopping is idempotent.
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleStats handles GET /api/sessions/current/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Current()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Compute(state))
}

// HandleChart handles GET /api/sessions/current/chart
func (h *Handler) HandleChart(w http.ResponseWriter, r *http.Request) {
	period := 10
	if raw := r.URL.Query().Get("period"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			period = n
		}
	}

	state, err := h.service.Current()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Curve(state, period))
}

// writeError maps service and backend errors to HTTP responses. Backend
// error details pass through verbatim so the dashboard can show them.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrRowNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, predictor.ErrUnreachable):
		writeDetail(w, http.StatusBadGateway, "Prediction service is unreachable")
	default:
		var apiErr *predictor.APIError
		if errors.As(err, &apiErr) {
			writeDetail(w, apiErr.StatusCode, apiErr.Detail)
			return
		}
		h.log.Error().Err(err).Msg("Session operation failed")
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
