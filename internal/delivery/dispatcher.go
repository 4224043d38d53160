package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/hookdispatch/internal/config"
	"github.com/shohag/hookdispatch/internal/metrics"
	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/storage"
	"github.com/shohag/hookdispatch/internal/urlguard"
)

// TargetResult summarizes what happened to one target during a dispatch.
type TargetResult struct {
	WebhookID  string `json:"webhook_id"`
	DeliveryID string `json:"delivery_id,omitempty"`
	State      State  `json:"state"`
	Attempts   int    `json:"attempts"`
	StatusCode int    `json:"status_code"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher resolves the targets of an event and drives each through its
// retry loop. Targets are independent of each other.
type Dispatcher struct {
	configs     storage.ConfigStore
	sink        storage.AttemptSink
	sender      *Sender
	workers     int
	maxAttempts int
	sleep       SleepFunc
	log         zerolog.Logger
}

type Option func(*Dispatcher)

func WithSender(s *Sender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

func WithSleep(fn SleepFunc) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

func NewDispatcher(cfg config.DeliveryConfig, configs storage.ConfigStore, sink storage.AttemptSink, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		configs:     configs,
		sink:        sink,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		sleep:       sleepContext,
		log:         log,
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = MaxAttempts
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sender == nil {
		d.sender = NewSender(cfg.Timeout, sink, log, WithResponseBodyLimit(cfg.ResponseBodyLimit))
	}
	return d
}

// Dispatch notifies every active target of creatorID subscribed to eventType.
// It returns once all targets reached a terminal state. Delivery failures are
// recorded, not returned; the only error is models.ErrUnknownEventType.
func (d *Dispatcher) Dispatch(ctx context.Context, creatorID string, eventType models.EventType, data models.EventData) error {
	_, err := d.Deliver(ctx, creatorID, models.DeliveryEvent{Type: eventType, Data: data})
	return err
}

// Deliver is Dispatch with a per-target summary.
func (d *Dispatcher) Deliver(ctx context.Context, creatorID string, event models.DeliveryEvent) ([]TargetResult, error) {
	if !event.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownEventType, event.Type)
	}

	log := d.log.With().Str("creator_id", creatorID).Str("event_type", string(event.Type)).Logger()
	log.Debug().Strs("data_keys", event.Data.Keys()).Msg("dispatching event")

	configs, err := d.configs.LoadActiveConfigs(ctx, creatorID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load webhook configs")
		return nil, nil
	}

	var targets []models.WebhookConfig
	for _, cfg := range configs {
		if cfg.Eligible(event.Type) {
			targets = append(targets, cfg)
		}
	}
	if len(targets) == 0 {
		log.Debug().Msg("no webhook subscribed to event")
		return nil, nil
	}

	results := make([]TargetResult, len(targets))
	p := pool.New().WithMaxGoroutines(min(d.workers, len(targets)))
	for i, target := range targets {
		p.Go(func() {
			results[i] = d.deliverTarget(ctx, target, event, log)
		})
	}
	p.Wait()

	return results, nil
}

func (d *Dispatcher) deliverTarget(ctx context.Context, target models.WebhookConfig, event models.DeliveryEvent, log zerolog.Logger) TargetResult {
	log = log.With().Str("webhook_id", target.ID).Logger()
	result := TargetResult{WebhookID: target.ID}

	if err := urlguard.Validate(target.URL); err != nil {
		d.recordBlocked(ctx, target, event)
		metrics.DeliveriesBlocked.WithLabelValues(string(event.Type)).Inc()
		log.Warn().Err(err).Msg("webhook url failed send-time validation, delivery blocked")
		result.State = StateBlocked
		result.Attempts = 1
		return result
	}

	result.DeliveryID = models.NewID("dlv")
	m := newMachine(d.maxAttempts)

	for {
		if ctx.Err() != nil {
			m.cancel()
			log.Info().Int("attempts", m.attempt).Msg("dispatch cancelled, abandoning pending attempts")
			break
		}

		n := m.begin()
		out := d.sender.Attempt(ctx, target, event, result.DeliveryID, n)
		result.StatusCode = out.StatusCode

		state, wait := m.observe(out.Result)
		if state.Terminal() {
			d.logTerminal(log, state, n, out)
			break
		}

		log.Info().
			Int("attempt", n).
			Int("status_code", out.StatusCode).
			Dur("retry_in", wait).
			AnErr("error", out.Err).
			Msg("delivery attempt failed, retrying")

		if err := d.sleep(ctx, wait); err != nil {
			m.cancel()
			log.Info().Int("attempts", n).Msg("dispatch cancelled, abandoning pending attempts")
			break
		}
	}

	result.State = m.state
	result.Attempts = m.attempt
	return result
}

func (d *Dispatcher) logTerminal(log zerolog.Logger, state State, n int, out Outcome) {
	switch state {
	case StateSuccess:
		log.Info().
			Int("attempt", n).
			Int("status_code", out.StatusCode).
			Int64("latency_ms", out.LatencyMs).
			Msg("delivery succeeded")
	case StatePermanentFailure:
		log.Warn().
			Int("attempt", n).
			Int("status_code", out.StatusCode).
			Msg("delivery rejected by receiver, not retrying")
	default:
		log.Warn().
			Int("attempts", n).
			Int("status_code", out.StatusCode).
			AnErr("error", out.Err).
			Msg("delivery attempts exhausted, dropping event")
	}
}

func (d *Dispatcher) recordBlocked(ctx context.Context, target models.WebhookConfig, event models.DeliveryEvent) {
	data, _ := json.Marshal(event.Data)
	rec := &models.DeliveryAttemptRecord{
		ID:              models.NewID("att"),
		WebhookConfigID: target.ID,
		EventType:       event.Type,
		Payload:         string(data),
		StatusCode:      0,
		ResponseBody:    models.BlockedResponseBody,
		AttemptNumber:   1,
		CreatedAt:       time.Now().UTC(),
	}
	if d.sink == nil {
		return
	}
	if err := d.sink.AppendAttempt(context.WithoutCancel(ctx), rec); err != nil {
		metrics.LogSinkFailures.Inc()
		d.log.Error().Err(err).Str("webhook_id", target.ID).Msg("failed to record blocked delivery")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
