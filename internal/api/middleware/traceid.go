package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const traceIDKey contextKey = "trace-id"

// TraceID assigns every request an identifier, exposes it as the
// Trace-Id response header, and stores it in the context so log lines
// and error bodies can carry the same id.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("Trace-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("Trace-Id", id)
		ctx := context.WithValue(r.Context(), traceIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTraceID returns the request's trace id, or "" outside a request.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
