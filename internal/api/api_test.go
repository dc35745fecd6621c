package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/setup"
	"github.com/ethangolledge/vapebot/internal/store"
)

type recordingSink struct {
	got []models.Response
	err error
}

func (s *recordingSink) Deliver(resp models.Response) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, resp)
	return nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *setup.Manager, *recordingSink) {
	t.Helper()
	setups := setup.NewManager(store.NewInMemoryStore())
	sink := &recordingSink{}
	opts = append([]Option{WithTwilioWebhook(sink)}, opts...)
	return NewServer(setups, opts...), setups, sink
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode(t, rr)["status"])
}

func TestSetupHandler(t *testing.T) {
	s, setups, _ := newTestServer(t)
	ctx := context.Background()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/setups/447700900123", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "error", decode(t, rr)["status"])

	_, err := setups.UpdateField(ctx, "447700900123", models.FieldTokes, "20")
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/setups/447700900123", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	result := decode(t, rr)["result"].(map[string]any)
	assert.Equal(t, false, result["complete"])
	assert.Contains(t, result["summary"], "Tokes: 20 puffs")
	record := result["record"].(map[string]any)
	assert.Equal(t, float64(20), record["tokes"])
	assert.Nil(t, record["method"])
}

func webhookRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioWebhook(t *testing.T) {
	s, _, sink := newTestServer(t)

	form := url.Values{"From": {"whatsapp:+447700900123"}, "Body": {"20"}, "MessageSid": {"SM123"}}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, webhookRequest(form))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/xml", rr.Header().Get("Content-Type"))
	require.Len(t, sink.got, 1)
	assert.Equal(t, "whatsapp:+447700900123", sink.got[0].From)
	assert.Equal(t, "20", sink.got[0].Body)
	assert.Equal(t, "SM123", sink.got[0].MessageID)
}

func TestTwilioWebhookRejectsBadRequests(t *testing.T) {
	s, _, sink := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+447700900123"}}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook/twilio", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	sink.err = errors.New("queue full")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, webhookRequest(url.Values{"From": {"+447700900123"}, "Body": {"hi"}}))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// sign computes X-Twilio-Signature the way Twilio does.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhookSignature(t *testing.T) {
	const (
		token   = "test-auth-token"
		hookURL = "https://bot.example.com/webhook/twilio"
	)
	s, _, sink := newTestServer(t, WithTwilioAuthToken(token), WithWebhookURL(hookURL))
	form := url.Values{"From": {"whatsapp:+447700900123"}, "Body": {"/setup"}, "MessageSid": {"SM1"}}

	rr := httptest.NewRecorder()
	req := webhookRequest(form)
	req.Header.Set("X-Twilio-Signature", "bogus")
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, sink.got)

	rr = httptest.NewRecorder()
	req = webhookRequest(form)
	req.Header.Set("X-Twilio-Signature", sign(token, hookURL, form))
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, sink.got, 1)
}

func TestWebhookDisabledWithoutSink(t *testing.T) {
	s := NewServer(setup.NewManager(store.NewInMemoryStore()))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, webhookRequest(url.Values{"From": {"x"}, "Body": {"y"}}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServerRunShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := NewServer(setup.NewManager(store.NewInMemoryStore()), WithAddr(addr))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
