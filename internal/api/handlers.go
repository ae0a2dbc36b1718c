// Package api implements the gateway's HTTP surface: the eight proxy
// routes, the aggregated health probe, and the route table wiring them
// to the routing policy and the bus client.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/internal/api/middleware"
	"github.com/gamecloud/gateway/internal/bus"
	"github.com/gamecloud/gateway/internal/routing"
	"github.com/gamecloud/gateway/pkg/models"
)

// maxBodyBytes caps request bodies so a misbehaving client cannot
// balloon an envelope.
const maxBodyBytes = 4 << 20

// Handlers holds the proxy pipeline dependencies.
type Handlers struct {
	table   *routing.Table
	bus     bus.Caller
	version string

	// probeTimeout is the per-microservice health deadline. Tests
	// shorten it.
	probeTimeout time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(table *routing.Table, caller bus.Caller, version string) *Handlers {
	return &Handlers{
		table:        table,
		bus:          caller,
		version:      version,
		probeTimeout: 2 * time.Second,
	}
}

// ── CRUD routes ──────────────────────────────────────────────

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	env, queue, ok := h.prepare(w, r, routing.ActionList, false)
	if !ok {
		return
	}
	reply, ok := h.call(w, r, queue, env)
	if !ok {
		return
	}
	respondReply(w, reply)
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	env, queue, ok := h.prepare(w, r, routing.ActionGet, false)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data := strconv.FormatInt(id, 10)
	env.Data = &data
	reply, ok := h.call(w, r, queue, env)
	if !ok {
		return
	}
	respondReply(w, reply)
}

func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	env, queue, ok := h.prepare(w, r, routing.ActionCreate, false)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env.Data = &body
	reply, ok := h.call(w, r, queue, env)
	if !ok {
		return
	}

	// The reply to Create is the new id as text; echo it and point
	// Location at the created resource.
	newID := strings.TrimSpace(string(reply))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", fmt.Sprintf("/api/%s/%s/%s", chi.URLParam(r, "ms"), chi.URLParam(r, "resource"), newID))
	w.WriteHeader(http.StatusCreated)
	w.Write(reply)
}

func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	env, queue, ok := h.prepare(w, r, routing.ActionUpdate, false)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env.ID = &id
	env.Data = &body
	if _, ok := h.call(w, r, queue, env); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	env, queue, ok := h.prepare(w, r, routing.ActionDelete, false)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data := strconv.FormatInt(id, 10)
	env.Data = &data
	if _, ok := h.call(w, r, queue, env); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Custom action routes ─────────────────────────────────────

func (h *Handlers) CustomAction(w http.ResponseWriter, r *http.Request) {
	h.customAction(w, r, false)
}

func (h *Handlers) CustomActionWithID(w http.ResponseWriter, r *http.Request) {
	h.customAction(w, r, true)
}

func (h *Handlers) customAction(w http.ResponseWriter, r *http.Request, withID bool) {
	env, queue, ok := h.prepare(w, r, chi.URLParam(r, "action"), true)
	if !ok {
		return
	}
	if withID {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		env.ID = &id
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env.Data = &body
	reply, ok := h.call(w, r, queue, env)
	if !ok {
		return
	}
	respondReply(w, reply)
}

// ── Pipeline steps ───────────────────────────────────────────

// prepare runs the fixed check order — resource allowed, action
// allowed, queue resolved — and builds the envelope skeleton. The
// action allowlist constrains custom actions only; the five implicit
// CRUD verbs are never subject to it. On any failure the response is
// already written and ok is false.
func (h *Handlers) prepare(w http.ResponseWriter, r *http.Request, action string, custom bool) (models.Envelope, string, bool) {
	ms := chi.URLParam(r, "ms")
	resource := chi.URLParam(r, "resource")

	if !h.table.IsResourceAllowed(ms, resource) {
		http.Error(w, "Resource not allowed.", http.StatusUnauthorized)
		return models.Envelope{}, "", false
	}
	if custom && !h.table.IsActionAllowed(ms, resource, action) {
		http.Error(w, "Action not allowed.", http.StatusUnauthorized)
		return models.Envelope{}, "", false
	}
	queue, ok := h.table.ResolveQueue(ms)
	if !ok {
		http.Error(w, "Unknown microservice.", http.StatusBadRequest)
		return models.Envelope{}, "", false
	}

	typeTag, err := h.table.ResolveType(ms, resource)
	if err != nil {
		if errors.Is(err, routing.ErrNotFound) {
			middleware.WriteError(w, r, http.StatusNotFound, err.Error())
		} else {
			middleware.WriteError(w, r, http.StatusInternalServerError, err.Error())
		}
		return models.Envelope{}, "", false
	}

	return models.Envelope{Type: typeTag, Resource: resource, Action: action}, queue, true
}

// call serializes the envelope, performs the bus RPC with the request's
// cancellation, and maps bus failures onto HTTP statuses. A cancelled
// call writes nothing: the client is gone.
func (h *Handlers) call(w http.ResponseWriter, r *http.Request, queue string, env models.Envelope) ([]byte, bool) {
	payload, err := json.Marshal(env)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "Failed to serialize envelope.")
		return nil, false
	}

	reply, err := h.bus.Call(r.Context(), queue, payload)
	if err != nil {
		switch {
		case errors.Is(err, bus.ErrCancelled):
			log.Debug().
				Str("queue", queue).
				Str("trace_id", middleware.GetTraceID(r.Context())).
				Msg("Call abandoned by client")
			return nil, false
		case errors.Is(err, bus.ErrTimeout):
			middleware.WriteError(w, r, http.StatusInternalServerError, "Upstream call timed out.")
			return nil, false
		default:
			log.Error().
				Err(err).
				Str("queue", queue).
				Str("trace_id", middleware.GetTraceID(r.Context())).
				Msg("Bus call failed")
			middleware.WriteError(w, r, http.StatusInternalServerError, "Upstream call failed.")
			return nil, false
		}
	}
	return reply, true
}

// respondReply streams the backend reply verbatim. The gateway never
// re-parses it; backend schemas stay opaque.
func respondReply(w http.ResponseWriter, reply []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

func readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "Failed to read request body.")
		return "", false
	}
	return string(raw), true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "Invalid id.")
		return 0, false
	}
	return id, true
}

// Version reports build metadata.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.VersionInfo{
		Version: h.version,
		Service: "gc-gateway-api",
	})
}
