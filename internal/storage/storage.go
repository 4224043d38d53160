package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shohag/hookdispatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// ConfigStore is the read side the delivery engine consumes.
type ConfigStore interface {
	LoadActiveConfigs(ctx context.Context, creatorID string) ([]models.WebhookConfig, error)
}

// AttemptSink receives one record per delivery attempt. Implementations must
// allow concurrent calls; each append is a single write.
type AttemptSink interface {
	AppendAttempt(ctx context.Context, rec *models.DeliveryAttemptRecord) error
}

type Storage interface {
	ConfigStore
	AttemptSink

	// Webhook configs
	CreateWebhook(ctx context.Context, cfg *models.WebhookConfig) error
	GetWebhook(ctx context.Context, id string) (*models.WebhookConfig, error)
	ListWebhooks(ctx context.Context, creatorID string) ([]models.WebhookConfig, error)
	UpdateWebhook(ctx context.Context, cfg *models.WebhookConfig) error
	ToggleWebhook(ctx context.Context, id string, active bool) error
	DeleteWebhook(ctx context.Context, id string) error

	// Attempts
	ListAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttemptRecord, error)

	// Stats
	GetStats(ctx context.Context, creatorID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalWebhooks  int64   `json:"total_webhooks"`
	ActiveWebhooks int64   `json:"active_webhooks"`
	TotalAttempts  int64   `json:"total_attempts"`
	SuccessCount   int64   `json:"success_count"`
	FailedCount    int64   `json:"failed_count"`
	BlockedCount   int64   `json:"blocked_count"`
	SuccessRate    float64 `json:"success_rate"`
}

func (s *Stats) finish() {
	if s.TotalAttempts > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalAttempts) * 100
	}
}

const defaultAttemptLimit = 50

func attemptLimit(limit int) int {
	if limit <= 0 {
		return defaultAttemptLimit
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

const webhookColumns = `id, creator_id, url, secret, events, active, created_at, updated_at`

func scanWebhook(row rowScanner) (*models.WebhookConfig, error) {
	var cfg models.WebhookConfig
	var events string
	if err := row.Scan(&cfg.ID, &cfg.CreatorID, &cfg.URL, &cfg.Secret, &events, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &cfg.Events); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func encodeEvents(events []models.EventType) string {
	if events == nil {
		events = []models.EventType{}
	}
	b, _ := json.Marshal(events)
	return string(b)
}

const attemptColumns = `id, webhook_config_id, delivery_id, event_type, payload, status_code, response_body, attempt_number, success, latency_ms, error, created_at`

func scanAttempt(row rowScanner) (*models.DeliveryAttemptRecord, error) {
	var a models.DeliveryAttemptRecord
	err := row.Scan(&a.ID, &a.WebhookConfigID, &a.DeliveryID, &a.EventType, &a.Payload, &a.StatusCode,
		&a.ResponseBody, &a.AttemptNumber, &a.Success, &a.LatencyMs, &a.Error, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
