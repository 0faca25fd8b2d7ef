package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/seatwatch/internal/registry"
	"github.com/ayusman/seatwatch/internal/store"
)

// ModelsHandler serves the model catalogue:
//
//	GET /api/models         files in the models directory
//	GET /api/model-history  recent model loads, newest first
type ModelsHandler struct {
	registry *registry.Registry
	store    *store.Store
}

// NewModelsHandler creates a ModelsHandler. s may be nil, in which case the
// history is always empty.
func NewModelsHandler(r *registry.Registry, s *store.Store) *ModelsHandler {
	return &ModelsHandler{registry: r, store: s}
}

type listModelsResponse struct {
	Dir    string           `json:"models_dir"`
	Models []registry.Model `json:"models"`
}

type historyResponse struct {
	Events []store.LoadEvent `json:"events"`
}

// ServeHTTP routes between the model list and the load history.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	switch r.URL.Path {
	case "/api/models":
		h.list(w, r)
	case "/api/model-history":
		h.history(w, r)
	default:
		writeError(w, http.StatusNotFound, "Endpoint not found")
	}
}

func (h *ModelsHandler) list(w http.ResponseWriter, r *http.Request) {
	models, err := h.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, listModelsResponse{Dir: h.registry.Dir(), Models: models})
}

func (h *ModelsHandler) history(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if h.store == nil {
		writeJSON(w, http.StatusOK, historyResponse{Events: []store.LoadEvent{}})
		return
	}

	events, err := h.store.Events().Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load model history")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Events: events})
}
