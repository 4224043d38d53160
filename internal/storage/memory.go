package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shohag/hookdispatch/internal/models"
)

// Memory is an in-process Storage used by tests and by `serve` when no
// database is wanted.
type Memory struct {
	mu       sync.RWMutex
	webhooks map[string]models.WebhookConfig
	attempts []models.DeliveryAttemptRecord
}

func NewMemory() *Memory {
	return &Memory{webhooks: make(map[string]models.WebhookConfig)}
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) LoadActiveConfigs(_ context.Context, creatorID string) ([]models.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.WebhookConfig
	for _, cfg := range m.webhooks {
		if cfg.CreatorID == creatorID && cfg.Active {
			out = append(out, cloneWebhook(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateWebhook(_ context.Context, cfg *models.WebhookConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[cfg.ID] = cloneWebhook(*cfg)
	return nil
}

func (m *Memory) GetWebhook(_ context.Context, id string) (*models.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneWebhook(cfg)
	return &out, nil
}

func (m *Memory) ListWebhooks(_ context.Context, creatorID string) ([]models.WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.WebhookConfig
	for _, cfg := range m.webhooks {
		if cfg.CreatorID == creatorID {
			out = append(out, cloneWebhook(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) UpdateWebhook(_ context.Context, cfg *models.WebhookConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[cfg.ID]; !ok {
		return ErrNotFound
	}
	cfg.UpdatedAt = time.Now().UTC()
	m.webhooks[cfg.ID] = cloneWebhook(*cfg)
	return nil
}

func (m *Memory) ToggleWebhook(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	cfg.Active = active
	cfg.UpdatedAt = time.Now().UTC()
	m.webhooks[id] = cfg
	return nil
}

func (m *Memory) DeleteWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(m.webhooks, id)

	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.WebhookConfigID != id {
			kept = append(kept, a)
		}
	}
	m.attempts = kept
	return nil
}

func (m *Memory) AppendAttempt(_ context.Context, rec *models.DeliveryAttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *rec)
	return nil
}

func (m *Memory) ListAttempts(_ context.Context, webhookID string, limit int) ([]models.DeliveryAttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = attemptLimit(limit)
	var out []models.DeliveryAttemptRecord
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.attempts[i].WebhookConfigID == webhookID {
			out = append(out, m.attempts[i])
		}
	}
	return out, nil
}

// Attempts returns every appended record in append order.
func (m *Memory) Attempts() []models.DeliveryAttemptRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeliveryAttemptRecord, len(m.attempts))
	copy(out, m.attempts)
	return out
}

func (m *Memory) GetStats(_ context.Context, creatorID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{}
	for _, cfg := range m.webhooks {
		if cfg.CreatorID != creatorID {
			continue
		}
		stats.TotalWebhooks++
		if cfg.Active {
			stats.ActiveWebhooks++
		}
	}
	for _, a := range m.attempts {
		cfg, ok := m.webhooks[a.WebhookConfigID]
		if !ok || cfg.CreatorID != creatorID {
			continue
		}
		stats.TotalAttempts++
		switch {
		case a.Success:
			stats.SuccessCount++
		case a.Blocked():
			stats.BlockedCount++
		default:
			stats.FailedCount++
		}
	}
	stats.finish()
	return stats, nil
}

func cloneWebhook(cfg models.WebhookConfig) models.WebhookConfig {
	cfg.Events = append([]models.EventType(nil), cfg.Events...)
	return cfg
}
