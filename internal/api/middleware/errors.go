package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/pkg/models"
)

// ErrorHandler converts panics escaping the handler chain into the
// normalized JSON error body. The stack trace is included outside
// production only. If the response has already started there is nothing
// safe to write; the panic is logged and the connection left as-is.
func ErrorHandler(environment string) func(http.Handler) http.Handler {
	production := environment == "Production"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				traceID := GetTraceID(r.Context())
				stack := string(debug.Stack())
				log.Error().
					Any("panic", rec).
					Str("trace_id", traceID).
					Str("stack", stack).
					Msg("Unhandled error in request pipeline")

				if rw.started {
					return
				}

				body := models.ErrorResponse{
					Code:    "ERROR",
					Message: "An unexpected error occurred.",
					TraceID: traceID,
				}
				if !production {
					body.Exception = stack
				}
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(rw).Encode(body)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// WriteError writes the normalized JSON error body with the request's
// trace id. Used by handlers for expected failures that still warrant
// the structured shape (lookup misses, upstream errors).
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    "ERROR",
		Message: message,
		TraceID: GetTraceID(r.Context()),
	})
}
