package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/shohag/hookdispatch/internal/metrics"
	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/signing"
	"github.com/shohag/hookdispatch/internal/storage"
	"github.com/shohag/hookdispatch/internal/urlguard"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderDelivery  = "X-Webhook-Delivery"

	DefaultTimeout           = 10 * time.Second
	DefaultResponseBodyLimit = 1000

	maxRedirects = 5
)

// UserAgent is sent with every delivery.
var UserAgent = "hookdispatch/dev"

// Outcome is the classified result of one attempt.
type Outcome struct {
	Result       Result
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Err          error
	Record       models.DeliveryAttemptRecord
}

// Sender performs single delivery attempts and records each one.
type Sender struct {
	client    *http.Client
	sink      storage.AttemptSink
	bodyLimit int
	now       func() time.Time
	log       zerolog.Logger
}

type SenderOption func(*Sender)

// WithHTTPClient replaces the transport. The client's redirect policy is
// overridden so redirect targets are validated too.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) {
		clone := *c
		s.client = &clone
	}
}

func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

func WithResponseBodyLimit(n int) SenderOption {
	return func(s *Sender) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

func NewSender(timeout time.Duration, sink storage.AttemptSink, log zerolog.Logger, opts ...SenderOption) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Sender{
		client:    &http.Client{},
		sink:      sink,
		bodyLimit: DefaultResponseBodyLimit,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client.Timeout = timeout
	s.client.CheckRedirect = checkRedirect
	return s
}

// checkRedirect follows only 307 and 308, which repeat the signed POST. Any
// other 3xx is returned as is and classified on its own status.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if req.Response != nil {
		switch req.Response.StatusCode {
		case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		default:
			return http.ErrUseLastResponse
		}
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return urlguard.Validate(req.URL.String())
}

type envelope struct {
	Event     models.EventType `json:"event"`
	Data      models.EventData `json:"data"`
	Timestamp string           `json:"timestamp"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// EncodePayload renders the wire body. The returned bytes are both what gets
// signed and what gets sent.
func EncodePayload(event models.DeliveryEvent, at time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Event:     event.Type,
		Data:      event.Data,
		Timestamp: at.UTC().Format(timestampLayout),
	})
}

// Attempt performs one POST to target and appends exactly one attempt record.
// The request is not tied to ctx cancellation; it is bounded by the client
// timeout so an in-flight attempt always gets logged.
func (s *Sender) Attempt(ctx context.Context, target models.WebhookConfig, event models.DeliveryEvent, deliveryID string, attemptNumber int) Outcome {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	out := s.send(ctx, target, event, deliveryID, attemptNumber)
	out.LatencyMs = time.Since(start).Milliseconds()

	rec := out.Record
	rec.ID = models.NewID("att")
	rec.WebhookConfigID = target.ID
	rec.DeliveryID = deliveryID
	rec.EventType = event.Type
	rec.StatusCode = out.StatusCode
	rec.ResponseBody = out.ResponseBody
	rec.AttemptNumber = attemptNumber
	rec.Success = out.Result == ResultSuccess
	rec.LatencyMs = out.LatencyMs
	rec.CreatedAt = s.now()
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	out.Record = rec

	s.append(ctx, &rec)

	outcome := out.Result.String()
	metrics.DeliveryAttempts.WithLabelValues(string(event.Type), outcome).Inc()
	metrics.DeliveryLatency.WithLabelValues(string(event.Type), outcome).Observe(float64(out.LatencyMs))

	return out
}

func (s *Sender) send(ctx context.Context, target models.WebhookConfig, event models.DeliveryEvent, deliveryID string, attemptNumber int) Outcome {
	payload, err := EncodePayload(event, s.now())
	if err != nil {
		data, _ := json.Marshal(event.Data)
		return Outcome{
			Result: ResultRetryable,
			Err:    fmt.Errorf("encode payload: %w", err),
			Record: models.DeliveryAttemptRecord{Payload: string(data)},
		}
	}
	out := Outcome{Record: models.DeliveryAttemptRecord{Payload: string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		out.Result = ResultRetryable
		out.Err = fmt.Errorf("create request: %w", err)
		return out
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderAttempt, strconv.Itoa(attemptNumber))
	req.Header.Set(HeaderDelivery, deliveryID)
	if target.Secret != "" {
		req.Header.Set(HeaderSignature, signing.Sign(payload, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		out.Result = ResultRetryable
		out.Err = fmt.Errorf("request failed: %w", err)
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	out.ResponseBody = readBody(resp.Body, s.bodyLimit)
	out.Result = Classify(resp.StatusCode)
	return out
}

func (s *Sender) append(ctx context.Context, rec *models.DeliveryAttemptRecord) {
	if s.sink == nil {
		return
	}
	if err := s.sink.AppendAttempt(ctx, rec); err != nil {
		metrics.LogSinkFailures.Inc()
		s.log.Error().Err(err).
			Str("webhook_id", rec.WebhookConfigID).
			Str("delivery_id", rec.DeliveryID).
			Int("attempt", rec.AttemptNumber).
			Msg("failed to record delivery attempt")
	}
}

// readBody returns at most limit characters of the body as valid UTF-8 with
// NUL bytes removed. Read failures yield an empty string.
func readBody(body io.Reader, limit int) string {
	b, err := io.ReadAll(io.LimitReader(body, int64(limit*utf8.UTFMax)))
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	return truncate(s, limit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
