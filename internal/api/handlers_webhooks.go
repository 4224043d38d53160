package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/storage"
	"github.com/shohag/hookdispatch/internal/urlguard"
)

type WebhookHandler struct {
	store    storage.Storage
	validate *validator.Validate
	log      zerolog.Logger
}

func NewWebhookHandler(store storage.Storage, validate *validator.Validate, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{store: store, validate: validate, log: log}
}

// webhookView is a config as read back after creation. The secret is withheld.
type webhookView struct {
	models.WebhookConfig
	HasSecret bool `json:"has_secret"`
}

func redact(cfg models.WebhookConfig) webhookView {
	v := webhookView{WebhookConfig: cfg, HasSecret: cfg.Secret != ""}
	v.Secret = ""
	return v
}

type createWebhookRequest struct {
	URL            string   `json:"url" validate:"required,url"`
	Events         []string `json:"events" validate:"required,min=1,dive,required"`
	Secret         string   `json:"secret" validate:"omitempty,min=8,max=256"`
	GenerateSecret bool     `json:"generate_secret"`
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "creatorID")

	var req createWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	events, err := models.ParseEventTypes(req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkURL(w, req.URL) {
		return
	}

	secret := req.Secret
	if secret == "" && req.GenerateSecret {
		secret = models.NewSecret()
	}

	now := time.Now().UTC()
	cfg := &models.WebhookConfig{
		ID:        models.NewID("wh"),
		CreatorID: creatorID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateWebhook(r.Context(), cfg); err != nil {
		h.log.Error().Err(err).Str("creator_id", creatorID).Msg("failed to create webhook")
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	h.log.Info().Str("creator_id", creatorID).Str("webhook_id", cfg.ID).Msg("webhook created")
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, redact(*cfg))
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "creatorID")

	cfgs, err := h.store.ListWebhooks(r.Context(), creatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	views := make([]webhookView, 0, len(cfgs))
	for _, cfg := range cfgs {
		views = append(views, redact(cfg))
	}
	writeJSON(w, http.StatusOK, views)
}

type updateWebhookRequest struct {
	URL    string   `json:"url" validate:"omitempty,url"`
	Events []string `json:"events" validate:"omitempty,min=1,dive,required"`
	Secret *string  `json:"secret" validate:"omitempty,max=256"`
	Active *bool    `json:"active"`
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.load(w, r)
	if !ok {
		return
	}

	var req updateWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	if req.URL != "" {
		if !h.checkURL(w, req.URL) {
			return
		}
		cfg.URL = req.URL
	}
	if req.Events != nil {
		events, err := models.ParseEventTypes(req.Events)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Events = events
	}
	if req.Secret != nil {
		cfg.Secret = *req.Secret
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateWebhook(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	writeJSON(w, http.StatusOK, redact(*cfg))
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.load(w, r)
	if !ok {
		return
	}

	newActive := !cfg.Active
	if err := h.store.ToggleWebhook(r.Context(), cfg.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle webhook")
		return
	}

	cfg.Active = newActive
	writeJSON(w, http.StatusOK, redact(*cfg))
}

func (h *WebhookHandler) load(w http.ResponseWriter, r *http.Request) (*models.WebhookConfig, bool) {
	cfg, err := h.store.GetWebhook(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil, false
	}
	return cfg, true
}

// checkURL runs the same validator the dispatcher applies at send time.
func (h *WebhookHandler) checkURL(w http.ResponseWriter, raw string) bool {
	err := urlguard.Validate(raw)
	if err == nil {
		return true
	}
	var rejected *urlguard.RejectedError
	if errors.As(err, &rejected) {
		writeError(w, http.StatusUnprocessableEntity, rejected.Error())
		return false
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
	return false
}
