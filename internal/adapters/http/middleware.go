package httpadapter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/observability/tracing"
)

const requestIDHeader = "X-Request-Id"

type requestIDContextKey struct{}

type callerIDContextKey struct{}

// callerSlot lets the access log see the identity resolved further down the chain.
type callerSlot struct{ id string }

type callerSlotContextKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

func callerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	callerID, _ := ctx.Value(callerIDContextKey{}).(string)
	return callerID
}

// RequestIdentity exposes the ids attached by the middleware chain to
// handlers mounted from other packages.
func RequestIdentity(r *http.Request) (requestID, callerID string) {
	return requestIDFromContext(r.Context()), callerIDFromContext(r.Context())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, requestID)
		r = r.WithContext(ctx)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "http_panic",
					"request_id", requestIDFromContext(r.Context()),
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				writeError(w, r, http.StatusInternalServerError, domain.CodeInternal, fmt.Sprint(rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func accessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			slot := &callerSlot{}
			r = r.WithContext(context.WithValue(r.Context(), callerSlotContextKey{}, slot))

			next.ServeHTTP(recorder, r)

			logAttrs := []any{
				"request_id", requestIDFromContext(r.Context()),
				"caller_id", slot.id,
				"trace_id", tracing.TraceID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.statusCode,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", recorder.bytesWritten,
				"remote_addr", remoteHost(r),
				"user_agent", r.UserAgent(),
			}

			switch {
			case recorder.statusCode >= 500:
				logger.Error("http_request", logAttrs...)
			case recorder.statusCode >= 400:
				logger.Warn("http_request", logAttrs...)
			default:
				logger.Info("http_request", logAttrs...)
			}
		})
	}
}

// identityMiddleware attaches the resolved caller id. With required set,
// requests without a resolvable identity are rejected.
func identityMiddleware(resolver ports.IdentityResolver, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			var callerID string
			if resolver != nil {
				if id, ok := resolver.Resolve(r.Context(), r.Header.Get("Authorization")); ok {
					callerID = id
				}
			}
			if callerID == "" && required {
				writeError(w, r, http.StatusUnauthorized, domain.CodeUnauthorized, "caller identity is required")
				return
			}
			if slot, ok := r.Context().Value(callerSlotContextKey{}).(*callerSlot); ok {
				slot.id = callerID
			}
			ctx := context.WithValue(r.Context(), callerIDContextKey{}, callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimitMiddleware keys on the caller id, falling back to the client
// address. Limiter failures admit the request.
func rateLimitMiddleware(limiter ports.RateLimiter, logger *slog.Logger, onReject func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			key := callerIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + remoteHost(r)
			}
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WarnContext(r.Context(), "rate_limiter_unavailable",
					"request_id", requestIDFromContext(r.Context()),
					"error", err.Error(),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if onReject != nil {
					onReject()
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusTooManyRequests, domain.CodeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
