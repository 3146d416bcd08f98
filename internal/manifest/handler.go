// internal/manifest/handler.go
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the allocation endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout", h.handleCheckout)
	r.Post("/checkin", h.handleCheckin)
	r.Route("/manifest/{id}", func(r chi.Router) {
		r.Post("/stage", h.handleStage)
		r.Post("/activate", h.handleActivate)
		r.Post("/close", h.handleClose)
		r.Get("/summary", h.handleSummary)
	})
}

type destinationPayload struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
}

type linePayload struct {
	ItemUID string `json:"item_uid"`
	Qty     int    `json:"qty"`
}

type transactionPayload struct {
	ManifestID string             `json:"manifestId"`
	Lines      []linePayload      `json:"lines"`
	To         destinationPayload `json:"to"`
}

type receiptPayload struct {
	OK        bool          `json:"ok"`
	Processed int           `json:"processed"`
	Applied   []AppliedLine `json:"applied"`
	ElapsedMs int64         `json:"elapsedMs"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	req, reasons := decodeTransaction(r)
	if len(reasons) > 0 {
		writeServiceError(w, &ValidationError{Reasons: reasons})
		return
	}

	receipt, err := h.service.Checkout(r.Context(), CheckoutRequest(*req))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeReceipt(w, receipt)
}

func (h *Handler) handleCheckin(w http.ResponseWriter, r *http.Request) {
	req, reasons := decodeTransaction(r)
	if len(reasons) > 0 {
		writeServiceError(w, &ValidationError{Reasons: reasons})
		return
	}

	receipt, err := h.service.Checkin(r.Context(), CheckinRequest(*req))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeReceipt(w, receipt)
}

func (h *Handler) handleStage(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Stage)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Activate)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Close)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid manifest id"})
		return
	}
	if err := op(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid manifest id"})
		return
	}
	summaries, err := h.service.Summary(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"manifestId": id, "lines": summaries})
}

// decodeTransaction parses the shared checkout/checkin body. Parse-level
// problems return reasons; semantic validation happens in the service.
func decodeTransaction(r *http.Request) (*CheckoutRequest, []string) {
	var body transactionPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, []string{"invalid request body"}
	}

	var reasons []string
	req := &CheckoutRequest{}

	if body.ManifestID == "" {
		reasons = append(reasons, "manifestId is required")
	} else {
		id, err := uuid.Parse(body.ManifestID)
		if err != nil {
			reasons = append(reasons, "manifestId is not a valid id")
		}
		req.ManifestID = id
	}

	for _, l := range body.Lines {
		req.Lines = append(req.Lines, LineRequest(l))
	}

	req.To.Type = DestinationType(body.To.Type)
	req.To.Label = body.To.Label
	if body.To.ID != "" {
		id, err := uuid.Parse(body.To.ID)
		if err != nil {
			reasons = append(reasons, "destination id is not a valid id")
		}
		req.To.ID = id
	}

	return req, reasons
}

type errorPayload struct {
	Error        string              `json:"error"`
	Reasons      []string            `json:"reasons,omitempty"`
	Conflicts    []SingletonConflict `json:"conflicts,omitempty"`
	Insufficient []InsufficientItem  `json:"insufficient,omitempty"`
}

// writeServiceError maps the engine's error taxonomy onto HTTP status
// codes: validation 400, not found 404, allocation conflict 409 with
// full structured detail, everything else 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request", Reasons: ve.Reasons})
		return
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, errorPayload{Error: nf.Error()})
		return
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusConflict, errorPayload{
			Error:        "allocation conflict",
			Conflicts:    ce.Conflicts,
			Insufficient: ce.Insufficient,
		})
		return
	}
	slog.Error("transaction failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal error"})
}

func writeReceipt(w http.ResponseWriter, receipt *Receipt) {
	writeJSON(w, http.StatusOK, receiptPayload{
		OK:        true,
		Processed: receipt.Processed,
		Applied:   receipt.Applied,
		ElapsedMs: receipt.Elapsed.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "err", err)
	}
}
