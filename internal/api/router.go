// Package api exposes the collection service over HTTP
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"igcollector/pkg/logger"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDFrom returns the request id attached by the middleware
func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// NewRouter builds the HTTP router with all routes and middleware
func NewRouter(h *Handlers, log logger.Logger) *mux.Router {
	if log == nil {
		log = logger.GetLogger()
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(log))

	r.HandleFunc("/", h.Info).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/pool-status", h.PoolStatus).Methods(http.MethodGet)
	r.HandleFunc("/collect/{username}", h.Collect).Methods(http.MethodPost)
	r.HandleFunc("/accounts", h.AddAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{username}", h.RemoveAccount).Methods(http.MethodDelete)
	r.HandleFunc("/cleanup", h.Cleanup).Methods(http.MethodPost)

	return r
}

// requestIDMiddleware tags every request with a unique id
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware writes one access log line per request
func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.InfoWithFields("request handled", map[string]interface{}{
				"request_id": requestIDFrom(r),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"duration":   time.Since(start).String(),
			})
		})
	}
}
