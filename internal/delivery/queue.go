package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/shohag/hookdispatch/internal/config"
	"github.com/shohag/hookdispatch/internal/metrics"
	"github.com/shohag/hookdispatch/internal/models"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

type job struct {
	creatorID string
	event     models.DeliveryEvent
}

// Queue lets producers hand off events without waiting for delivery. It is
// in-memory only; queued events are lost on shutdown.
type Queue struct {
	dispatcher *Dispatcher
	jobs       chan job
	workers    int
	log        zerolog.Logger

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

func NewQueue(cfg config.DeliveryConfig, dispatcher *Dispatcher, log zerolog.Logger) *Queue {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	workers := cfg.QueueWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		dispatcher: dispatcher,
		jobs:       make(chan job, size),
		workers:    workers,
		log:        log,
		cancel:     func() {},
	}
}

func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.log.Info().Int("workers", q.workers).Int("capacity", cap(q.jobs)).Msg("starting dispatch queue")

	for i := 0; i < q.workers; i++ {
		q.wg.Go(func() {
			for j := range q.jobs {
				metrics.QueueDepth.Set(float64(len(q.jobs)))
				if ctx.Err() != nil {
					continue
				}
				if err := q.dispatcher.Dispatch(ctx, j.creatorID, j.event.Type, j.event.Data); err != nil {
					q.log.Error().Err(err).Str("creator_id", j.creatorID).Msg("dispatch failed")
				}
			}
		})
	}
}

// Enqueue schedules an event for dispatch and returns immediately.
func (q *Queue) Enqueue(creatorID string, eventType models.EventType, data models.EventData) error {
	if !eventType.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownEventType, eventType)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job{creatorID: creatorID, event: models.DeliveryEvent{Type: eventType, Data: data}}:
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new events, abandons pending retries and queued events, and
// waits for in-flight attempts to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.jobs)
	close(q.jobs)
	q.mu.Unlock()

	q.log.Info().Int("dropped", dropped).Msg("stopping dispatch queue")
	q.cancel()

	if r := q.wg.WaitAndRecover(); r != nil {
		q.log.Error().Str("panic", fmt.Sprint(r.Value)).Msg("dispatch worker panicked")
	}
	metrics.QueueDepth.Set(0)
	q.log.Info().Msg("dispatch queue stopped")
}
