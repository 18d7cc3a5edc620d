package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
)

// maxBodyBytes caps a single item document.
const maxBodyBytes = 4 << 20

// ItemWriter is implemented by *publisher.Publisher.
type ItemWriter interface {
	Upsert(ctx context.Context, req *ingestion.ItemRequest) (*ingestion.ItemResponse, error)
	Delete(ctx context.Context, datasource, id string) (*ingestion.ItemResponse, error)
}

type Handler struct {
	items  ItemWriter
	logger *slog.Logger
}

func New(items ItemWriter) *Handler {
	return &Handler{
		items:  items,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

// Routes mounts the item endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/api/v1/items", h.Upsert).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/items/{id}", h.Delete).Methods(http.MethodDelete)
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req ingestion.ItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "item document too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var invalid *validator.ValidationError
	switch err := validator.ValidateItemRequest(&req); {
	case errors.As(err, &invalid):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": invalid.Fields,
		})
		return
	case err != nil:
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := logger.With(r.Context(), "item_id", req.ID, "datasource", req.Datasource)
	resp, err := h.items.Upsert(ctx, &req)
	if err != nil {
		h.fail(ctx, w, "upsert", err)
		return
	}
	logger.FromContext(ctx).Info("item stored")
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Delete removes an item. The datasource query parameter is required so an
// id shared by two datasources is never removed from both.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	datasource := r.URL.Query().Get("datasource")
	if datasource == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'datasource' is required")
		return
	}
	ctx := logger.With(r.Context(), "item_id", id, "datasource", datasource)
	resp, err := h.items.Delete(ctx, datasource, id)
	if err != nil {
		h.fail(ctx, w, "delete", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// fail reports input errors verbatim and hides everything else.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(ctx).Error("item "+op+" failed", "kind", apperrors.KindOf(err), "error", err)
	if status == http.StatusBadRequest {
		h.writeError(w, status, err.Error())
		return
	}
	h.writeError(w, status, op+" failed")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
