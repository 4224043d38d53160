package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/signing"
	"github.com/shohag/hookdispatch/internal/storage"
	"github.com/shohag/hookdispatch/internal/urlguard"
)

func newTestSender(t *testing.T, addr string, opts ...SenderOption) (*Sender, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	opts = append([]SenderOption{WithHTTPClient(routedClient(addr)), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewSender(2*time.Second, store, zerolog.Nop(), opts...), store
}

func testTarget(secret string) models.WebhookConfig {
	return models.WebhookConfig{
		ID:     models.NewID("wh"),
		URL:    "http://hooks.example.com/receive",
		Secret: secret,
		Events: []models.EventType{models.EventPaymentSucceeded},
		Active: true,
	}
}

func TestEncodePayload(t *testing.T) {
	var data models.EventData
	require.NoError(t, data.Set("b", 1))
	require.NoError(t, data.Set("a", "x"))

	body, err := EncodePayload(models.DeliveryEvent{Type: models.EventQuizCompleted, Data: data}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"quiz.completed","data":{"b":1,"a":"x"},"timestamp":"2026-03-14T15:09:26.535Z"}`, string(body))

	empty, err := EncodePayload(models.DeliveryEvent{Type: models.EventStudentCreated}, fixedNow.In(time.FixedZone("X", 3600)))
	require.NoError(t, err)
	assert.Equal(t, `{"event":"student.created","data":{},"timestamp":"2026-03-14T15:09:26.535Z"}`, string(empty))
}

func TestAttempt_SignsExactBody(t *testing.T) {
	srv := newReceiver(t, http.StatusOK)
	sender, store := newTestSender(t, srv.Listener.Addr().String())
	target := testTarget("whsec_test")
	event := models.DeliveryEvent{Type: models.EventPaymentSucceeded, Data: paymentData(t)}

	out := sender.Attempt(context.Background(), target, event, "dlv_1", 1)
	require.NoError(t, out.Err)
	assert.Equal(t, ResultSuccess, out.Result)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	want := `{"event":"payment.succeeded","data":{"payment_id":"pay_123","amount":4900,"currency":"usd"},"timestamp":"2026-03-14T15:09:26.535Z"}`
	assert.Equal(t, want, string(reqs[0].Body))

	sig := reqs[0].Header.Get(HeaderSignature)
	assert.Equal(t, signing.Sign(reqs[0].Body, "whsec_test"), sig)
	assert.True(t, signing.Verify(reqs[0].Body, sig, "whsec_test"))

	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, "payment.succeeded", reqs[0].Header.Get(HeaderEvent))
	assert.Equal(t, "1", reqs[0].Header.Get(HeaderAttempt))
	assert.Equal(t, "dlv_1", reqs[0].Header.Get(HeaderDelivery))
	assert.Equal(t, UserAgent, reqs[0].Header.Get("User-Agent"))

	records := store.Attempts()
	require.Len(t, records, 1)
	assert.Equal(t, want, records[0].Payload)
	assert.Equal(t, target.ID, records[0].WebhookConfigID)
	assert.Equal(t, "dlv_1", records[0].DeliveryID)
	assert.Equal(t, models.EventPaymentSucceeded, records[0].EventType)
	assert.True(t, records[0].Success)
	assert.Equal(t, fixedNow, records[0].CreatedAt)
}

func TestAttempt_NoSignatureWithoutSecret(t *testing.T) {
	srv := newReceiver(t, http.StatusNoContent)
	sender, _ := newTestSender(t, srv.Listener.Addr().String())

	out := sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_2", 2)
	assert.Equal(t, ResultSuccess, out.Result)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	_, present := reqs[0].Header[http.CanonicalHeaderKey(HeaderSignature)]
	assert.False(t, present)
	assert.Equal(t, "2", reqs[0].Header.Get(HeaderAttempt))
}

func TestAttempt_TruncatesResponseBody(t *testing.T) {
	srv := newReceiver(t, http.StatusBadRequest)
	srv.SetBody(strings.Repeat("é", 1500))
	sender, store := newTestSender(t, srv.Listener.Addr().String())

	out := sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_3", 1)
	assert.Equal(t, ResultPermanent, out.Result)
	assert.Equal(t, 1000, utf8.RuneCountInString(out.ResponseBody))

	records := store.Attempts()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusBadRequest, records[0].StatusCode)
	assert.Equal(t, out.ResponseBody, records[0].ResponseBody)
	assert.False(t, records[0].Success)
}

func TestAttempt_CustomBodyLimit(t *testing.T) {
	srv := newReceiver(t, http.StatusOK)
	srv.SetBody("abcdefghij")
	sender, _ := newTestSender(t, srv.Listener.Addr().String(), WithResponseBodyLimit(4))

	out := sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_4", 1)
	assert.Equal(t, "abcd", out.ResponseBody)
}

func TestAttempt_NetworkFailureIsRetryable(t *testing.T) {
	srv := newReceiver(t)
	addr := srv.Listener.Addr().String()
	srv.Close()

	sender, store := newTestSender(t, addr)
	out := sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_5", 1)

	assert.Equal(t, ResultRetryable, out.Result)
	assert.Equal(t, 0, out.StatusCode)
	require.Error(t, out.Err)

	records := store.Attempts()
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].StatusCode)
	assert.NotEmpty(t, records[0].Error)
}

func TestAttempt_TimeoutIsRetryable(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	store := storage.NewMemory()
	sender := NewSender(100*time.Millisecond, store, zerolog.Nop(), WithHTTPClient(routedClient(slow.Listener.Addr().String())))

	out := sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_6", 1)
	assert.Equal(t, ResultRetryable, out.Result)
	assert.Equal(t, 0, out.StatusCode)
	assert.Less(t, out.LatencyMs, int64(2000))
	assert.Len(t, store.Attempts(), 1)
}

func TestAttempt_BlocksRedirectToPrivateAddress(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "http://127.0.0.1/admin", http.StatusTemporaryRedirect)
	}))
	t.Cleanup(srv.Close)

	sender, store := newTestSender(t, srv.Listener.Addr().String())
	out := sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_7", 1)

	assert.Equal(t, ResultRetryable, out.Result)
	assert.Equal(t, 0, out.StatusCode)
	require.Error(t, out.Err)
	var rejected *urlguard.RejectedError
	assert.ErrorAs(t, out.Err, &rejected)
	assert.Equal(t, int32(1), hits.Load())
	assert.Len(t, store.Attempts(), 1)
}

func TestAttempt_IgnoresCallerCancellation(t *testing.T) {
	srv := newReceiver(t, http.StatusOK)
	sender, store := newTestSender(t, srv.Listener.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := sender.Attempt(ctx, testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_8", 1)
	assert.Equal(t, ResultSuccess, out.Result)
	assert.Len(t, store.Attempts(), 1)
}

func TestAttempt_DoesNotFollowMethodChangingRedirect(t *testing.T) {
	var followed atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://hooks.example.com/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		followed.Add(1)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sender, store := newTestSender(t, srv.Listener.Addr().String())
	target := testTarget("whsec_test")
	target.URL = "http://hooks.example.com/a"

	out := sender.Attempt(context.Background(), target, models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_9", 1)
	require.NoError(t, out.Err)
	assert.Equal(t, http.StatusFound, out.StatusCode)
	assert.Equal(t, ResultRetryable, out.Result)
	assert.Equal(t, int32(0), followed.Load())

	records := store.Attempts()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusFound, records[0].StatusCode)
	assert.False(t, records[0].Success)
}

func TestAttempt_FollowsMethodPreservingRedirect(t *testing.T) {
	type seen struct {
		method, sig string
		body        []byte
	}
	got := make(chan seen, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://hooks.example.com/b", http.StatusPermanentRedirect)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{method: r.Method, sig: r.Header.Get(HeaderSignature), body: body}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sender, _ := newTestSender(t, srv.Listener.Addr().String())
	target := testTarget("whsec_test")
	target.URL = "http://hooks.example.com/a"

	out := sender.Attempt(context.Background(), target, models.DeliveryEvent{Type: models.EventPaymentSucceeded, Data: paymentData(t)}, "dlv_10", 1)
	require.NoError(t, out.Err)
	assert.Equal(t, ResultSuccess, out.Result)

	s := <-got
	assert.Equal(t, http.MethodPost, s.method)
	assert.NotEmpty(t, s.body)
	assert.True(t, signing.Verify(s.body, s.sig, "whsec_test"))
}

func TestAttempt_SanitizesBinaryResponseBody(t *testing.T) {
	srv := newReceiver(t, http.StatusOK)
	srv.SetBody("ok\x00\xff\xfe binary")
	sender, store := newTestSender(t, srv.Listener.Addr().String())

	sender.Attempt(context.Background(), testTarget(""), models.DeliveryEvent{Type: models.EventPaymentSucceeded}, "dlv_11", 1)

	records := store.Attempts()
	require.Len(t, records, 1)
	body := records[0].ResponseBody
	assert.True(t, utf8.ValidString(body))
	assert.NotContains(t, body, "\x00")
	assert.Equal(t, "ok\uFFFD binary", body)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "日本", truncate("日本語", 2))
	assert.Equal(t, "", truncate("abc", 0))
}
