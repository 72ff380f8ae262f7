// Package handlers provides HTTP handlers for the checkpoint catalog.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/croupier/internal/clients/predictor"
	"github.com/aristath/croupier/internal/modules/checkpoints"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler provides HTTP handlers for checkpoint endpoints
type Handler struct {
	service *checkpoints.Service
	log     zerolog.Logger
}

// NewHandler creates a new checkpoints handler
func NewHandler(service *checkpoints.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "checkpoints").Logger(),
	}
}

// RegisterRoutes registers checkpoint routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkpoints", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/refresh", h.HandleRefresh)
		r.Delete("/{name}", h.HandleDelete)
	})
}

// HandleList handles GET /api/checkpoints
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": names})
}

// HandleRefresh handles POST /api/checkpoints/refresh. Drops the cached
// listing and returns a fresh one, for when the catalog changed behind our
// back (a training run finished, a checkpoint was copied in).
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.service.Invalidate()

	names, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": names})
}

// HandleDelete handles DELETE /api/checkpoints/{name}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.Delete(r.Context(), name); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "checkpoint": name})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, predictor.ErrUnreachable) {
		writeDetail(w, http.StatusBadGateway, "Prediction service is unreachable")
		return
	}
	var apiErr *predictor.APIError
	if errors.As(err, &apiErr) {
		writeDetail(w, apiErr.StatusCode, apiErr.Detail)
		return
	}
	h.log.Error().Err(err).Msg("Checkpoint operation failed")
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
