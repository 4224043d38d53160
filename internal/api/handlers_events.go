package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/shohag/hookdispatch/internal/delivery"
	"github.com/shohag/hookdispatch/internal/models"
)

type EventHandler struct {
	queue    EventQueue
	validate *validator.Validate
	log      zerolog.Logger
}

func NewEventHandler(queue EventQueue, validate *validator.Validate, log zerolog.Logger) *EventHandler {
	return &EventHandler{queue: queue, validate: validate, log: log}
}

type ingestEventRequest struct {
	Event string           `json:"event" validate:"required"`
	Data  models.EventData `json:"data"`
}

type ingestEventResponse struct {
	Status string           `json:"status"`
	Event  models.EventType `json:"event"`
}

// Ingest accepts an event from a producer and queues it for dispatch.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "creatorID")

	var req ingestEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	eventType, err := models.ParseEventType(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.queue.Enqueue(creatorID, eventType, req.Data)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrQueueFull), errors.Is(err, delivery.ErrQueueClosed):
		h.log.Warn().Err(err).Str("creator_id", creatorID).Str("event_type", req.Event).Msg("event rejected")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ingestEventResponse{Status: "accepted", Event: eventType})
}
