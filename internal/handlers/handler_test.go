package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/12jason0/DoNa-sub000/internal/bridge"
	"github.com/12jason0/DoNa-sub000/internal/config"
)

type mockController struct {
	mu        sync.Mutex
	status    bridge.Status
	links     []string
	canGoBack bool
	delivered []string
	inboxFull bool
	hub       *bridge.Hub
}

func newMockController() *mockController {
	return &mockController{hub: bridge.NewHub(), status: bridge.Status{Attached: true, URL: "https://dona.io.kr/"}}
}

func (m *mockController) Status() bridge.Status { return m.status }

func (m *mockController) HandleDeepLink(_ context.Context, uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, uri)
	return !strings.HasPrefix(uri, "bad")
}

func (m *mockController) OnBackPressed(context.Context) bool { return m.canGoBack }

func (m *mockController) Deliver(raw string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inboxFull {
		return false
	}
	m.delivered = append(m.delivered, raw)
	return true
}

func (m *mockController) Hub() *bridge.Hub { return m.hub }

func newTestRouter(m *mockController, cfg *config.RuntimeConfig, shutdown func()) http.Handler {
	if cfg == nil {
		cfg = &config.RuntimeConfig{}
	}
	return New(m, cfg, "test").Router(shutdown)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad json %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	m := newMockController()
	h := newTestRouter(m, nil, nil)

	w := do(t, h, "GET", "/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Errorf("status = %v", got)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}

	m.status.Attached = false
	if got := decode(t, do(t, h, "GET", "/health", ""))["status"]; got != "disconnected" {
		t.Errorf("status = %v", got)
	}
}

func TestHandleStatus(t *testing.T) {
	m := newMockController()
	m.status.UserID = "u1"
	m.status.HasToken = true
	w := do(t, newTestRouter(m, nil, nil), "GET", "/status", "")
	body := decode(t, w)
	if body["userId"] != "u1" || body["hasToken"] != true {
		t.Errorf("unexpected status %v", body)
	}
}

func TestHandleHelpAndMetrics(t *testing.T) {
	h := newTestRouter(newMockController(), nil, nil)
	if w := do(t, h, "GET", "/help", ""); !strings.Contains(w.Body.String(), "endpoints") {
		t.Errorf("help missing endpoints: %s", w.Body.String())
	}
	w := do(t, h, "GET", "/metrics", "")
	body := decode(t, w)
	for _, k := range []string{"requestsTotal", "messagesDropped", "eventSubscribers"} {
		if _, ok := body[k]; !ok {
			t.Errorf("metrics missing %s", k)
		}
	}
}

func TestHandleDeepLink(t *testing.T) {
	m := newMockController()
	h := newTestRouter(m, nil, nil)

	w := do(t, h, "POST", "/deeplink", `{"uri":" dona://courses/3 "}`)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["handled"] != true {
		t.Error("expected handled")
	}
	if len(m.links) != 1 || m.links[0] != "dona://courses/3" {
		t.Errorf("links = %v", m.links)
	}

	if w := do(t, h, "POST", "/deeplink", `{"uri":"bad://x"}`); decode(t, w)["handled"] != false {
		t.Error("expected unhandled")
	}
}

func TestHandleDeepLink_BadRequests(t *testing.T) {
	h := newTestRouter(newMockController(), nil, nil)
	for _, body := range []string{"", "{", `{"uri":"  "}`} {
		if w := do(t, h, "POST", "/deeplink", body); w.Code != 400 {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	if w := do(t, h, "GET", "/deeplink", ""); w.Code != 405 {
		t.Errorf("expected 405 for GET, got %d", w.Code)
	}
}

func TestHandleBack(t *testing.T) {
	m := newMockController()
	h := newTestRouter(m, nil, nil)
	if decode(t, do(t, h, "POST", "/back", ""))["handled"] != false {
		t.Error("nothing to go back to")
	}
	m.canGoBack = true
	if decode(t, do(t, h, "POST", "/back", ""))["handled"] != true {
		t.Error("expected back to be handled")
	}
}

func TestHandleMessage(t *testing.T) {
	m := newMockController()
	h := newTestRouter(m, nil, nil)

	w := do(t, h, "POST", "/messages", `{"type":"logout"}`)
	if w.Code != 202 {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(m.delivered) != 1 || m.delivered[0] != `{"type":"logout"}` {
		t.Errorf("delivered = %v", m.delivered)
	}

	if w := do(t, h, "POST", "/messages", "   "); w.Code != 400 {
		t.Errorf("expected 400 for empty message, got %d", w.Code)
	}

	m.inboxFull = true
	w = do(t, h, "POST", "/messages", `{"type":"logout"}`)
	if w.Code != 503 {
		t.Errorf("expected 503 when inbox is full, got %d", w.Code)
	}
	if decode(t, w)["retryable"] != true {
		t.Error("dropped message should be retryable")
	}
}

func TestShutdownRoute(t *testing.T) {
	if w := do(t, newTestRouter(newMockController(), nil, nil), "POST", "/shutdown", ""); w.Code != 404 {
		t.Errorf("shutdown should not be routed without a callback, got %d", w.Code)
	}

	done := make(chan struct{})
	h := newTestRouter(newMockController(), nil, func() { close(done) })
	w := do(t, h, "POST", "/shutdown", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	<-done
}

func TestRouterRequiresToken(t *testing.T) {
	h := newTestRouter(newMockController(), &config.RuntimeConfig{Token: "s3cret"}, nil)
	if w := do(t, h, "GET", "/status", ""); w.Code != 401 {
		t.Errorf("expected 401, got %d", w.Code)
	}
	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestRouterRefusesForeignPages(t *testing.T) {
	m := newMockController()
	h := newTestRouter(m, &config.RuntimeConfig{Bind: "127.0.0.1", Port: "9871", Token: "s3cret"}, nil)

	req := httptest.NewRequest("POST", "/messages", strings.NewReader(`{"type":"setAuthToken","token":"forged"}`))
	req.Header.Set("Origin", "https://partner.example")
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 403 {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if len(m.delivered) != 0 {
		t.Errorf("foreign page reached the bridge: %v", m.delivered)
	}
}
