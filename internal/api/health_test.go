package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gamecloud/gateway/pkg/models"
)

func decodeReport(t *testing.T, body []byte) models.HealthReport {
	t.Helper()
	var report models.HealthReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("unmarshal health report: %v; body: %s", err, body)
	}
	return report
}

func TestHealth_AllHealthy(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{
		"mainsite_queue": `{"status":"Healthy"}`,
		"billing_queue":  `{"status":"Healthy","data":{"db":"ok"}}`,
	}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body)
	}

	report := decodeReport(t, w.Body.Bytes())
	if report.Status != models.StatusHealthy {
		t.Errorf("overall status = %q, want Healthy", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(report.Checks))
	}

	// Every microservice was probed with the health envelope.
	if fb.callCount() != 2 {
		t.Errorf("bus calls = %d, want 2", fb.callCount())
	}
	for _, call := range fb.calls {
		if call.payload != `{"type":"INFRA","resource":"Health","action":"Check"}` {
			t.Errorf("probe envelope = %s", call.payload)
		}
	}
}

func TestHealth_SilentMicroserviceMarkedUnhealthy(t *testing.T) {
	// billing never replies; its probe must time out, be marked
	// Unhealthy, and flip the overall report to 503.
	fb := &fakeBus{replies: map[string]string{
		"mainsite_queue": `{"status":"Healthy"}`,
	}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body: %s", w.Code, w.Body)
	}

	report := decodeReport(t, w.Body.Bytes())
	if report.Status != models.StatusUnhealthy {
		t.Errorf("overall status = %q, want Unhealthy", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("checks = %d, want 2 entries even with a failed probe", len(report.Checks))
	}

	byName := map[string]models.HealthCheck{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	if byName["mainsite"].Status != models.StatusHealthy {
		t.Errorf("mainsite = %q, want Healthy", byName["mainsite"].Status)
	}
	if byName["billing"].Status != models.StatusUnhealthy {
		t.Errorf("billing = %q, want Unhealthy", byName["billing"].Status)
	}
}

func TestHealth_DegradedComponentFoldsToUnhealthy(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{
		"mainsite_queue": `{"status":"Healthy"}`,
		"billing_queue":  `{"status":"Degraded"}`,
	}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 for a degraded component", w.Code)
	}

	report := decodeReport(t, w.Body.Bytes())
	if report.Status != models.StatusUnhealthy {
		t.Errorf("overall status = %q, want Unhealthy", report.Status)
	}
}

func TestHealth_UnparsableReplyMarkedUnhealthy(t *testing.T) {
	fb := &fakeBus{replies: map[string]string{
		"mainsite_queue": `not json`,
		"billing_queue":  `{"status":"Healthy"}`,
	}}
	gw := newTestGateway(t, fb)

	w := doRequest(t, gw, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
