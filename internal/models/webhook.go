package models

import "time"

// WebhookConfig is a tenant-owned delivery target. The delivery engine only
// reads it.
type WebhookConfig struct {
	ID        string      `json:"id"`
	CreatorID string      `json:"creator_id"`
	URL       string      `json:"url"`
	Secret    string      `json:"secret,omitempty"`
	Events    []EventType `json:"events"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Subscribes reports whether eventType is in the config's subscription set.
func (c WebhookConfig) Subscribes(eventType EventType) bool {
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Eligible reports whether the config should receive eventType.
func (c WebhookConfig) Eligible(eventType EventType) bool {
	return c.Active && c.Subscribes(eventType)
}
