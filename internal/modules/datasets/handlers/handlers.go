// Package handlers provides HTTP handlers for dataset management and
// backend table browsing.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/croupier/internal/clients/predictor"
	"github.com/aristath/croupier/internal/modules/datasets"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Uploads larger than this are rejected before any backend work happens.
const maxUploadBytes = 64 << 20

// Handler provides HTTP handlers for dataset endpoints
type Handler struct {
	service *datasets.Service
	log     zerolog.Logger
}

// NewHandler creates a new datasets handler
func NewHandler(service *datasets.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "datasets").Logger(),
	}
}

// RegisterRoutes registers dataset routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/datasets", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/upload", h.HandleUpload)
		r.Delete("/{name}", h.HandleDelete)
	})
	r.Post("/context/clear", h.HandleClearContext)
	r.Route("/tables", func(r chi.Router) {
		r.Get("/", h.HandleListTables)
		r.Get("/{name}", h.HandleTableData)
		r.Get("/{name}/stats", h.HandleTableStats)
	})
}

// HandleList handles GET /api/datasets
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": list})
}

// HandleUpload handles POST /api/datasets/upload (multipart form)
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "A CSV file is required")
		return
	}
	defer file.Close()

	table := r.FormValue("table")
	separator := r.FormValue("csv_separator")

	result, err := h.service.Upload(r.Context(), table, header.Filename, separator, file)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleDelete handles DELETE /api/datasets/{name}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.Delete(r.Context(), name); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "dataset_name": name})
}

// HandleClearContext handles POST /api/context/clear
func (h *Handler) HandleClearContext(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearContext(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleListTables handles GET /api/tables
func (h *Handler) HandleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.service.ListTables(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

// HandleTableData handles GET /api/tables/{name}
func (h *Handler) HandleTableData(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			offset = n
		}
	}

	page, err := h.service.GetTableData(r.Context(), name, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleTableStats handles GET /api/tables/{name}/stats
func (h *Handler) HandleTableStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	stats, err := h.service.GetTableStats(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
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
	h.log.Error().Err(err).Msg("Dataset operation failed")
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
