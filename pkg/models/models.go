// Package models holds the wire-level shapes the gateway exchanges with
// backend microservices and HTTP clients.
package models

import "strings"

// ── Bus envelope ─────────────────────────────────────────────

// Envelope is the canonical message the gateway publishes to a
// microservice queue on behalf of an HTTP client. Serialized as
// camelCase JSON with absent fields omitted.
type Envelope struct {
	Type     string  `json:"type"`
	Resource string  `json:"resource"`
	Action   string  `json:"action"`
	ID       *int64  `json:"id,omitempty"`
	Data     *string `json:"data,omitempty"`
}

// ── Health ───────────────────────────────────────────────────

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "Healthy"
	StatusDegraded  HealthStatus = "Degraded"
	StatusUnhealthy HealthStatus = "Unhealthy"
)

// ParseHealthStatus maps a backend-reported status string onto the known
// set, case-insensitively. Anything unrecognized counts as Unhealthy.
func ParseHealthStatus(s string) HealthStatus {
	switch {
	case strings.EqualFold(s, string(StatusHealthy)):
		return StatusHealthy
	case strings.EqualFold(s, string(StatusDegraded)):
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// MicroserviceHealth is the reply a backend sends to the Health/Check
// probe. Data is opaque diagnostic detail.
type MicroserviceHealth struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// HealthCheck is one microservice's entry in the aggregated report.
type HealthCheck struct {
	Name   string         `json:"name"`
	Status HealthStatus   `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// HealthReport is the aggregated health response body.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Checks []HealthCheck `json:"checks"`
}

// ── Errors ───────────────────────────────────────────────────

// ErrorResponse is the normalized JSON error body produced by the error
// middleware. Exception carries a stack trace outside production only.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	TraceID   string `json:"traceId"`
	Exception string `json:"exception,omitempty"`
}

// ── Version ──────────────────────────────────────────────────

type VersionInfo struct {
	Version string `json:"version"`
	Service string `json:"service"`
}
