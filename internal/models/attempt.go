package models

import "time"

// BlockedResponseBody is recorded when a target fails send-time URL validation.
const BlockedResponseBody = "Blocked: webhook URL failed SSRF validation"

// DeliveryAttemptRecord is one append-only row per HTTP attempt or per
// validation rejection. StatusCode 0 means no HTTP response was obtained.
type DeliveryAttemptRecord struct {
	ID              string    `json:"id"`
	WebhookConfigID string    `json:"webhook_config_id"`
	DeliveryID      string    `json:"delivery_id"`
	EventType       EventType `json:"event_type"`
	Payload         string    `json:"payload"`
	StatusCode      int       `json:"status_code"`
	ResponseBody    string    `json:"response_body"`
	AttemptNumber   int       `json:"attempt_number"`
	Success         bool      `json:"success"`
	LatencyMs       int64     `json:"latency_ms"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Blocked reports whether the record is a send-time validation rejection.
func (r DeliveryAttemptRecord) Blocked() bool {
	return r.StatusCode == 0 && r.ResponseBody == BlockedResponseBody
}
