package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderRequestID                = "X-Request-ID"
	ContextKeyRequestID contextKey = "validatord.request_id"
)

type ObservabilityConfig struct {
	LogRequests bool
}

// RouteObserver records per-route outcomes. observability.ModuleMetrics
// satisfies it.
type RouteObserver interface {
	Observe(route, method string, status int, duration time.Duration)
}

type Observability struct {
	cfg     ObservabilityConfig
	logger  *slog.Logger
	metrics RouteObserver
}

func NewObservability(cfg ObservabilityConfig, metrics RouteObserver, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observability{cfg: cfg, logger: logger, metrics: metrics}
}

// RequestID propagates an incoming X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)

			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", recorder.status),
			)
			if o.metrics != nil {
				o.metrics.Observe(route, r.Method, recorder.status, duration)
			}
			if o.cfg.LogRequests {
				o.logger.InfoContext(r.Context(), "http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("route", route),
					slog.Int("status", recorder.status),
					slog.Duration("duration", duration),
					slog.String("request_id", RequestIDFromContext(r.Context())))
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
