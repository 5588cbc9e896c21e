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
	"github.com/robertarktes/ticket-commerce/internal/idempotency"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const loggerKey ctxKey = iota

// LoggerFrom returns the request scoped logger, or fallback outside a request.
func LoggerFrom(ctx context.Context, fallback observability.Logger) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return fallback
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("request completed")
		})
	}
}

// IdempotencyMiddleware replays the stored response of a POST that carries an
// Idempotency-Key already seen for the same path. Requests without the header
// pass through. Server errors are not stored so the client can retry.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Idempotency-Key")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) < 16 {
				badRequest(w, "invalid Idempotency-Key")
				return
			}

			ctx := r.Context()
			key := r.URL.Path + ":" + header
			existing, err := idemp.Get(ctx, key)
			if err != nil {
				LoggerFrom(ctx, logger).WithError(err).Error("idempotency lookup failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if existing != nil {
				replay(w, existing)
				return
			}

			claimed, err := idemp.Begin(ctx, key)
			if err != nil {
				LoggerFrom(ctx, logger).WithError(err).Error("idempotency claim failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !claimed {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "request with this Idempotency-Key is in progress", Code: "idempotency_conflict"})
				return
			}
			defer func() {
				if err := idemp.End(context.WithoutCancel(ctx), key); err != nil {
					LoggerFrom(ctx, logger).WithError(err).Warn("idempotency release failed")
				}
			}()

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 || status >= http.StatusInternalServerError {
				return
			}
			err = idemp.Set(context.WithoutCancel(ctx), key, idempotency.Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Result:      body.Bytes(),
			})
			if err != nil {
				LoggerFrom(ctx, logger).WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	w.Write(resp.Result)
}

// RateLimitMiddleware applies a per user limit keyed on X-User-ID and a per IP
// limit to every request.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, userLimit, ipLimit int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := r.Header.Get("X-User-ID"); userID != "" && !rl.Allow(ctx, "user:"+userID, userLimit, window) {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
				return
			}
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !rl.Allow(ctx, "ip:"+ip, ipLimit, window) {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.request_id", middleware.GetReqID(ctx)),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}
