package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/pkg/models"
)

// Health probes every configured microservice in parallel and folds the
// results: the gateway is Healthy only when every backend is. Each
// probe gets its own deadline so one silent queue cannot stall the
// report.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ids := h.table.Microservices()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		checks    = make([]models.HealthCheck, 0, len(ids))
		unhealthy atomic.Bool
	)

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			check := h.probe(r.Context(), id)
			if check.Status != models.StatusHealthy {
				unhealthy.Store(true)
			}
			mu.Lock()
			checks = append(checks, check)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	report := models.HealthReport{Status: models.StatusHealthy, Checks: checks}
	status := http.StatusOK
	if unhealthy.Load() {
		report.Status = models.StatusUnhealthy
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}

// probe performs one Health/Check RPC. Every failure mode — missing
// queue, timeout, transport error, unparsable reply — counts as
// Unhealthy with the cause in the diagnostic data.
func (h *Handlers) probe(ctx context.Context, id string) models.HealthCheck {
	queue, ok := h.table.ResolveQueue(id)
	if !ok {
		return models.HealthCheck{
			Name:   id,
			Status: models.StatusUnhealthy,
			Data:   map[string]any{"error": "queue not configured"},
		}
	}

	payload, _ := json.Marshal(models.Envelope{
		Type:     "INFRA",
		Resource: "Health",
		Action:   "Check",
	})

	probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	reply, err := h.bus.Call(probeCtx, queue, payload)
	if err != nil {
		log.Warn().Err(err).Str("microservice", id).Msg("Health probe failed")
		return models.HealthCheck{
			Name:   id,
			Status: models.StatusUnhealthy,
			Data:   map[string]any{"error": err.Error()},
		}
	}

	var health models.MicroserviceHealth
	if err := json.Unmarshal(reply, &health); err != nil {
		return models.HealthCheck{
			Name:   id,
			Status: models.StatusUnhealthy,
			Data:   map[string]any{"error": "unparsable health reply"},
		}
	}

	return models.HealthCheck{
		Name:   id,
		Status: models.ParseHealthStatus(health.Status),
		Data:   health.Data,
	}
}
