package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/storage"
)

const maxAttemptLimit = 500

type AttemptHandler struct {
	store storage.Storage
}

func NewAttemptHandler(store storage.Storage) *AttemptHandler {
	return &AttemptHandler{store: store}
}

// List returns the attempt log of one webhook, newest first.
func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	if _, err := h.store.GetWebhook(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return
	}

	attempts, err := h.store.ListAttempts(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []models.DeliveryAttemptRecord{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
