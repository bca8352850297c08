// Package integration exercises the full worksyncd HTTP stack end to end:
// real router, real middleware chain, HMAC-signed tokens, and in-memory
// stores, together with the device agent syncing against it.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/internal/config"
	"github.com/axleworks/worksync/internal/observability"
	"github.com/axleworks/worksync/internal/session"
	"github.com/axleworks/worksync/internal/transport"
	"github.com/axleworks/worksync/model"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "worksync"
	testSecret   = "integration-test-secret"
)

// TestHarness runs a complete worksyncd server against in-memory stores.
type TestHarness struct {
	t     *testing.T
	srv   *httptest.Server
	Store *session.MemorySessionStore
}

// NewTestHarness starts a server with identity enabled.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()
	t.Setenv("WORKSYNC_JWT_SECRET", testSecret)

	cfg := config.Defaults()
	cfg.Identity.Enabled = true
	cfg.Identity.Issuer = testIssuer
	cfg.Identity.Audience = testAudience

	logger := zap.NewNop()
	store := session.NewMemorySessionStore()
	auth, err := transport.NewAuthenticator(cfg.Identity, logger)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Service:       session.NewService(store, logger),
		Idempotency:   session.NewMemoryIdempotencyStore(),
		Metrics:       observability.InitMetrics(prometheus.NewRegistry()),
		Authenticator: auth,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &TestHarness{t: t, srv: srv, Store: store}
}

// BaseURL returns the server's base URL.
func (h *TestHarness) BaseURL() string { return h.srv.URL }

// GenerateToken signs an HS256 token for the given subject.
func (h *TestHarness) GenerateToken(subject string) string {
	h.t.Helper()

	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   subject,
		"email": subject + "@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		h.t.Fatalf("sign token: %v", err)
	}
	return token
}

// Do sends a JSON request with a bearer token and returns the response.
func (h *TestHarness) Do(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON decodes and closes a response body.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// AssertStatus fails the test when the status differs, printing the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d, body: %s", resp.StatusCode, expected, body)
	}
}

// CreateSession creates a session through the API and returns it.
func (h *TestHarness) CreateSession(t *testing.T, token string, documentIDs ...string) model.WorkSession {
	t.Helper()
	resp := h.Do(http.MethodPost, "/sessions", map[string]any{
		"ownerId":     "alice",
		"documentIds": documentIDs,
	}, token)
	h.AssertStatus(t, resp, http.StatusCreated)

	var sess model.WorkSession
	h.ParseJSON(resp, &sess)
	return sess
}

// flakyProxy forwards requests to the server and can be switched "offline",
// in which case every request fails with a bare 503. It simulates the network
// between a device and the server.
type flakyProxy struct {
	srv    *httptest.Server
	target string
	online atomic.Bool
}

func newFlakyProxy(t *testing.T, target string) *flakyProxy {
	t.Helper()

	p := &flakyProxy{target: target}
	p.online.Store(true)
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.online.Load() {
			http.Error(w, "gateway down", http.StatusServiceUnavailable)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), r.Method, p.target+r.URL.Path, r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		req.Header = r.Header.Clone()

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *flakyProxy) URL() string       { return p.srv.URL }
func (p *flakyProxy) setOnline(on bool) { p.online.Store(on) }

// manualWatcher is a ConnectivityWatcher toggled by the test.
type manualWatcher struct {
	online atomic.Bool
	ch     chan bool
}

func newManualWatcher(online bool) *manualWatcher {
	w := &manualWatcher{ch: make(chan bool, 4)}
	w.online.Store(online)
	return w
}

func (w *manualWatcher) Online() bool         { return w.online.Load() }
func (w *manualWatcher) Changes() <-chan bool { return w.ch }

func (w *manualWatcher) set(online bool) {
	w.online.Store(online)
	w.ch <- online
}

func assertEqual(t *testing.T, got, want any, label string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}
