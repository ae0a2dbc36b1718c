package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gamecloud/gateway/internal/auth"
	"github.com/gamecloud/gateway/internal/bus"
	"github.com/gamecloud/gateway/internal/config"
	"github.com/gamecloud/gateway/internal/routing"
)

// ── Fakes ────────────────────────────────────────────────────

type busCall struct {
	queue   string
	payload string
}

// fakeBus records calls and answers from a per-queue script. A queue
// with no script entry blocks until the context is done, mimicking a
// backend that never replies.
type fakeBus struct {
	mu      sync.Mutex
	calls   []busCall
	replies map[string]string
}

func (f *fakeBus) Call(ctx context.Context, queue string, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, busCall{queue: queue, payload: string(payload)})
	reply, ok := f.replies[queue]
	f.mu.Unlock()

	if !ok {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w after publishing to %s", bus.ErrTimeout, queue)
		}
		return nil, fmt.Errorf("%w while awaiting reply from %s", bus.ErrCancelled, queue)
	}
	return []byte(reply), nil
}

func (f *fakeBus) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBus) lastCall(t *testing.T) busCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no bus calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

// fakeVerifier accepts the token "good" and rejects everything else.
type fakeVerifier struct{}

func (fakeVerifier) Verify(ctx context.Context, raw string) (*auth.Identity, error) {
	if raw == "good" {
		return &auth.Identity{Subject: "user-1", Name: "alice", Roles: []string{"realm:admin"}}, nil
	}
	return nil, auth.ErrInvalidToken
}

// ── Fixture ──────────────────────────────────────────────────

func testRoutingConfig() routing.Config {
	return routing.Config{
		Microservices: []routing.Microservice{
			{
				ID:    "mainsite",
				Queue: "mainsite_queue",
				Scope: routing.ScopePrivate,
				Resources: []routing.Resource{
					{
						Name:  "Countries",
						Type:  "DATA",
						Scope: routing.ScopePublic,
						Actions: []routing.Action{
							{Name: "List", Scope: routing.ScopePublic},
						},
					},
					{Name: "GameTypes", Type: "DATA"},
				},
			},
			{
				ID:    "billing",
				Queue: "billing_queue",
				Resources: []routing.Resource{
					{Name: "Invoices", Type: "DATA"},
				},
			},
		},
	}
}

func newTestGateway(t *testing.T, fb *fakeBus) http.Handler {
	t.Helper()
	table := routing.NewTable(testRoutingConfig())
	h := NewHandlers(table, fb, "test")
	h.probeTimeout = 50 * time.Millisecond
	cfg := &config.Config{Environment: "Development"}
	return NewRouter(cfg, table, fakeVerifier{}, h)
}

func doRequest(t *testing.T, gw http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)
	return w
}

// ── End-to-end scenarios ─────────────────────────────────────

func TestPublicList(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{"mainsite_queue": `[{"id":1,"iso":"FR"}]`}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/mainsite/Countries", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if w.Body.String() != `[{"id":1,"iso":"FR"}]` {
		t.Errorf("body = %q, want reply verbatim", w.Body.String())
	}

	call := fb.lastCall(t)
	if call.queue != "mainsite_queue" {
		t.Errorf("published to %q, want mainsite_queue", call.queue)
	}
	if call.payload != `{"type":"DATA","resource":"Countries","action":"List"}` {
		t.Errorf("envelope = %s", call.payload)
	}
}

func TestAuthenticatedCreate(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{"mainsite_queue": `42`}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodPost, "/api/mainsite/Countries", `{"iso":"DE"}`, "good")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body)
	}
	if loc := w.Header().Get("Location"); loc != "/api/mainsite/Countries/42" {
		t.Errorf("Location = %q, want /api/mainsite/Countries/42", loc)
	}
	if w.Body.String() != "42" {
		t.Errorf("body = %q, want 42", w.Body.String())
	}

	call := fb.lastCall(t)
	if call.payload != `{"type":"DATA","resource":"Countries","action":"Create","data":"{\"iso\":\"DE\"}"}` {
		t.Errorf("envelope = %s", call.payload)
	}
}

func TestUnauthenticatedPrivate(t *testing.T) {
	fb := &fakeBus{}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/mainsite/GameTypes/5", "", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if fb.callCount() != 0 {
		t.Errorf("bus calls = %d, want 0 (no RPC for rejected request)", fb.callCount())
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	fb := &fakeBus{}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/mainsite/GameTypes/5", "", "bad")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if fb.callCount() != 0 {
		t.Errorf("bus calls = %d, want 0", fb.callCount())
	}
}

func TestUnknownMicroservice(t *testing.T) {
	fb := &fakeBus{}
	gw := newTestGateway(t, fb)

	// Resource check fires first per the fixed pipeline order, so an
	// authenticated call to an unknown microservice answers 401.
	w := doRequest(t, gw, http.MethodGet, "/api/unknown/X", "", "good")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if fb.callCount() != 0 {
		t.Errorf("bus calls = %d, want 0", fb.callCount())
	}
}

func TestCaseInsensitiveURLSegments(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{"mainsite_queue": `[]`}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/MAINSITE/countries", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body)
	}
	// The envelope carries the resource as spelled in the URL.
	call := fb.lastCall(t)
	if call.payload != `{"type":"DATA","resource":"countries","action":"List"}` {
		t.Errorf("envelope = %s", call.payload)
	}
}

// ── Envelope shapes for all eight routes ─────────────────────

func TestEnvelopeShapes(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		status   int
		envelope string
	}{
		{
			"create", http.MethodPost, "/api/billing/Invoices", `{"n":1}`,
			http.StatusCreated,
			`{"type":"DATA","resource":"Invoices","action":"Create","data":"{\"n\":1}"}`,
		},
		{
			"list", http.MethodGet, "/api/billing/Invoices", "",
			http.StatusOK,
			`{"type":"DATA","resource":"Invoices","action":"List"}`,
		},
		{
			"get", http.MethodGet, "/api/billing/Invoices/7", "",
			http.StatusOK,
			`{"type":"DATA","resource":"Invoices","action":"Get","data":"7"}`,
		},
		{
			"update", http.MethodPut, "/api/billing/Invoices/7", `{"n":2}`,
			http.StatusNoContent,
			`{"type":"DATA","resource":"Invoices","action":"Update","id":7,"data":"{\"n\":2}"}`,
		},
		{
			"delete", http.MethodDelete, "/api/billing/Invoices/7", "",
			http.StatusNoContent,
			`{"type":"DATA","resource":"Invoices","action":"Delete","data":"7"}`,
		},
		{
			"custom action", http.MethodPost, "/api/billing/Invoices/actions/Export", `{"to":"csv"}`,
			http.StatusOK,
			`{"type":"DATA","resource":"Invoices","action":"Export","data":"{\"to\":\"csv\"}"}`,
		},
		{
			"custom action with id", http.MethodPost, "/api/billing/Invoices/7/actions/Export", `{"to":"csv"}`,
			http.StatusOK,
			`{"type":"DATA","resource":"Invoices","action":"Export","id":7,"data":"{\"to\":\"csv\"}"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBus{replies: map[string]string{"billing_queue": `"ok"`}}
			gw := newTestGateway(t, fb)

			w := doRequest(t, gw, tt.method, tt.path, tt.body, "good")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.status, w.Body)
			}
			if call := fb.lastCall(t); call.payload != tt.envelope {
				t.Errorf("envelope = %s\nwant       %s", call.payload, tt.envelope)
			}
		})
	}
}

func TestUpdateAndDeleteDiscardReply(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{"billing_queue": `"ignored"`}}
	gw := newTestGateway(t, fb)

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		w := doRequest(t, gw, method, "/api/billing/Invoices/7", `{}`, "good")
		if w.Code != http.StatusNoContent {
			t.Errorf("%s status = %d, want 204", method, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("%s body = %q, want empty", method, w.Body.String())
		}
	}
}

func TestActionListDoesNotRestrictCrudVerbs(t *testing.T) {
	// Countries declares only the List action, which constrains custom
	// actions exclusively; every implicit CRUD verb still goes through.
	fb := &fakeBus{replies: map[string]string{"mainsite_queue": `9`}}
	gw := newTestGateway(t, fb)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodPost, "/api/mainsite/Countries", `{"iso":"DE"}`, http.StatusCreated},
		{http.MethodGet, "/api/mainsite/Countries/9", "", http.StatusOK},
		{http.MethodPut, "/api/mainsite/Countries/9", `{"iso":"AT"}`, http.StatusNoContent},
		{http.MethodDelete, "/api/mainsite/Countries/9", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		w := doRequest(t, gw, tt.method, tt.path, tt.body, "good")
		if w.Code != tt.status {
			t.Errorf("%s %s status = %d, want %d; body: %s", tt.method, tt.path, w.Code, tt.status, w.Body)
		}
	}
	if fb.callCount() != len(tests) {
		t.Errorf("bus calls = %d, want %d", fb.callCount(), len(tests))
	}
}

func TestUndeclaredCustomActionRejected(t *testing.T) {
	fb := &fakeBus{}
	gw := newTestGateway(t, fb)

	// Countries declares actions, so an undeclared name is rejected.
	w := doRequest(t, gw, http.MethodPost, "/api/mainsite/Countries/actions/Purge", `{}`, "good")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if fb.callCount() != 0 {
		t.Errorf("bus calls = %d, want 0", fb.callCount())
	}
}

func TestVersionEndpoint(t *testing.T) {
	gw := newTestGateway(t, &fakeBus{})

	w := doRequest(t, gw, http.MethodGet, "/api/version", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"gc-gateway-api"`) {
		t.Errorf("body = %s, want service name", w.Body.String())
	}
}
