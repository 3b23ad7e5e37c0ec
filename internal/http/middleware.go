package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/idempotency"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"github.com/robertarktes/bus-seat-reservations/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	userKey
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFrom returns the request-scoped logger, or a discarding one outside a
// request.
func LoggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return observability.NewNopLogger()
}

// MetricsMiddleware counts requests by route pattern, status and method and
// logs one line per request.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
		LoggerFrom(r.Context()).
			WithField("method", r.Method).
			WithField("route", route).
			WithField("status", status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Debug("request served")
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityMiddleware takes the caller id from the gateway header. Requests
// without one are rejected.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			writeError(w, r, domain.ErrUnauthenticated)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// IdempotencyMiddleware requires an Idempotency-Key on POST requests and,
// when a store is configured, replays the stored response of a key already
// seen for the same user. Server errors are not stored so they can be
// retried.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeBadRequest(w, "missing Idempotency-Key")
				return
			}
			if len(key) < idempotency.MinKeyLength {
				writeBadRequest(w, "invalid Idempotency-Key")
				return
			}
			if idemp == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := LoggerFrom(ctx)
			userID := UserID(ctx)

			if replayed := replay(w, r, idemp, userID, key); replayed {
				return
			}

			release, ok, err := idemp.Begin(ctx, userID, key)
			if err != nil {
				log.WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "request_in_progress", Message: "a request with this Idempotency-Key is in progress"})
				return
			}
			defer release()

			// another request may have finished between the lookup and the lock
			if replayed := replay(w, r, idemp, userID, key); replayed {
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			header := http.Header{}
			if ct := ww.Header().Get("Content-Type"); ct != "" {
				header.Set("Content-Type", ct)
			}
			resp := idempotency.Response{Status: status, Header: header, Result: buf.Bytes()}
			if err := idemp.Set(context.WithoutCancel(ctx), userID, key, resp); err != nil {
				log.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, idemp *idempotency.Idempotency, userID, key string) bool {
	existing, err := idemp.Get(r.Context(), userID, key)
	if err != nil {
		LoggerFrom(r.Context()).WithError(err).Warn("idempotency lookup failed")
		return false
	}
	if existing == nil {
		return false
	}
	for k, v := range existing.Header {
		w.Header()[k] = v
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(existing.Status)
	w.Write(existing.Result)
	return true
}

type RateLimits struct {
	PerUser int
	PerIP   int
	Period  time.Duration
}

// RateLimitMiddleware limits requests per user and per client IP. It fails
// open when the counter store is unreachable.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, limits RateLimits) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed := true

			if userID := UserID(ctx); userID != "" {
				ok, err := rl.Allow(ctx, "user:"+userID, limits.PerUser, limits.Period)
				if err != nil {
					LoggerFrom(ctx).WithError(err).Warn("rate limiter unavailable")
				}
				allowed = allowed && ok
			}
			ok, err := rl.Allow(ctx, "ip:"+clientIP(r), limits.PerIP, limits.Period)
			if err != nil {
				LoggerFrom(ctx).WithError(err).Warn("rate limiter unavailable")
			}
			allowed = allowed && ok

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(limits.Period.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
