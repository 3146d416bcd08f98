// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/items", h.handleAddItem)
	r.Get("/items", h.handleItems)
	r.Get("/items/{uid}", h.handleGetItem)
	r.Patch("/items/mirror", h.handleMirror)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string         `json:"name"`
		Classification Classification `json:"classification"`
		QuantityTotal  int            `json:"quantity_total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.service.AddItem(r.Context(), req.Name, req.Classification, req.QuantityTotal)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "uid"))
	if errors.Is(err, ErrNotFound) {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// handleItems serves batch lookups: GET /items?uid=HT-001&uid=MAT-7.
func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	uids := r.URL.Query()["uid"]
	if len(uids) == 0 {
		jsonError(w, http.StatusBadRequest, "at least one uid query parameter is required")
		return
	}

	items, err := h.service.Items(r.Context(), uids)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, items)
}

func (h *Handler) handleMirror(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []MirrorUpdate `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.ApplyMirror(r.Context(), req.Updates); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "err", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
