package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookdispatch/internal/config"
	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/storage"
)

// receivedRequest is what a scripted receiver saw.
type receivedRequest struct {
	Header http.Header
	Body   []byte
}

// receiver answers with the scripted statuses in order, repeating the last.
type receiver struct {
	*httptest.Server
	mu       sync.Mutex
	statuses []int
	body     string
	requests []receivedRequest
}

func newReceiver(t *testing.T, statuses ...int) *receiver {
	t.Helper()
	r := &receiver{statuses: statuses}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, receivedRequest{Header: req.Header.Clone(), Body: body})
		n := len(r.requests)
		status := http.StatusOK
		if len(r.statuses) > 0 {
			status = r.statuses[min(n, len(r.statuses))-1]
		}
		respBody := r.body
		r.mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) SetBody(body string) {
	r.mu.Lock()
	r.body = body
	r.mu.Unlock()
}

func (r *receiver) Requests() []receivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedRequest(nil), r.requests...)
}

// routedClient sends every request to addr whatever the URL host says, so
// targets can use public-looking hostnames that pass URL validation.
func routedClient(addr string) *http.Client {
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
}

// routedByHost maps "host:port" dial targets to local listener addresses.
func routedByHost(routes map[string]string) *http.Client {
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			target, ok := routes[address]
			if !ok {
				return nil, fmt.Errorf("no route for %s", address)
			}
			var d net.Dialer
			return d.DialContext(ctx, network, target)
		},
	}}
}

// recordingSleep records requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleep) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type failingSink struct{}

func (failingSink) AppendAttempt(context.Context, *models.DeliveryAttemptRecord) error {
	return errors.New("disk full")
}

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

func testConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Workers:           4,
		Timeout:           2 * time.Second,
		MaxAttempts:       3,
		ResponseBodyLimit: 1000,
		QueueSize:         8,
		QueueWorkers:      2,
	}
}

type harness struct {
	store      *storage.Memory
	sleeper    *recordingSleep
	dispatcher *Dispatcher
	creatorID  string
}

func newHarness(t *testing.T, addr string) *harness {
	t.Helper()
	h := &harness{
		store:     storage.NewMemory(),
		sleeper:   &recordingSleep{},
		creatorID: models.NewID("cr"),
	}
	cfg := testConfig()
	sender := NewSender(cfg.Timeout, h.store, zerolog.Nop(), WithHTTPClient(routedClient(addr)), WithClock(func() time.Time { return fixedNow }))
	h.dispatcher = NewDispatcher(cfg, h.store, h.store, zerolog.Nop(), WithSender(sender), WithSleep(h.sleeper.Sleep))
	return h
}

func (h *harness) addWebhook(t *testing.T, url, secret string, active bool, events ...models.EventType) models.WebhookConfig {
	t.Helper()
	now := time.Now().UTC()
	cfg := models.WebhookConfig{
		ID:        models.NewID("wh"),
		CreatorID: h.creatorID,
		URL:       url,
		Secret:    secret,
		Events:    events,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, h.store.CreateWebhook(context.Background(), &cfg))
	return cfg
}

func (h *harness) attemptsFor(webhookID string) []models.DeliveryAttemptRecord {
	var out []models.DeliveryAttemptRecord
	for _, a := range h.store.Attempts() {
		if a.WebhookConfigID == webhookID {
			out = append(out, a)
		}
	}
	return out
}

func paymentData(t *testing.T) models.EventData {
	t.Helper()
	var d models.EventData
	require.NoError(t, d.Set("payment_id", "pay_123"))
	require.NoError(t, d.Set("amount", 4900))
	require.NoError(t, d.Set("currency", "usd"))
	return d
}
