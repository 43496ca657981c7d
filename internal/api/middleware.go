package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bennet0/bennet/internal/tenant"
)

// TenantHeader carries the caller's company domain. Absence or an unmapped
// domain is terminal for the request.
const TenantHeader = "X-Tenant-Domain"

// Context key types (unexported to prevent collisions).
type tenantCtxKey struct{}
type requestIDCtxKey struct{}

var (
	ctxKeyTenant    = tenantCtxKey{}
	ctxKeyRequestID = requestIDCtxKey{}
)

// tenantFromContext retrieves the resolved tenant from the request context.
func tenantFromContext(ctx context.Context) (*tenant.Tenant, bool) {
	t, ok := ctx.Value(ctxKeyTenant).(*tenant.Tenant)
	return t, ok
}

// requestIDFromContext retrieves the request ID from the context.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// loggingWriter wraps http.ResponseWriter to capture status and size.
type loggingWriter struct {
	w            http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lw *loggingWriter) Header() http.Header { return lw.w.Header() }

func (lw *loggingWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.w.WriteHeader(code)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if lw.statusCode == 0 {
		lw.statusCode = http.StatusOK
	}
	n, err := lw.w.Write(b)
	lw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (lw *loggingWriter) Unwrap() http.ResponseWriter { return lw.w }

// recoveryMiddleware recovers from panics to prevent server crashes.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &loggingWriter{w: w}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"headers_sent", wrapper.statusCode != 0,
					)
					if wrapper.statusCode == 0 {
						writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

// requestIDMiddleware assigns each request a UUID, echoed in X-Request-ID.
func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// loggingMiddleware logs request details including latency, status, and size.
// Reuses an existing *loggingWriter from recoveryMiddleware to avoid
// double-wrapping the ResponseWriter.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper, ok := w.(*loggingWriter)
			if !ok {
				wrapper = &loggingWriter{w: w}
			}

			next.ServeHTTP(wrapper, r)

			status := wrapper.statusCode
			if status == 0 {
				status = http.StatusOK
			}

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", wrapper.bytesWritten,
				"duration", time.Since(start),
				"request_id", requestIDFromContext(r.Context()),
			)
		})
	}
}

// tenantMiddleware resolves the caller's domain header into a tenant and
// puts it in the request context. Every route behind it is tenant-scoped.
func tenantMiddleware(resolver TenantResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			domain := r.Header.Get(TenantHeader)
			if domain == "" {
				writeError(w, http.StatusNotFound, "tenant_not_found", "missing "+TenantHeader+" header")
				return
			}

			t, err := resolver.Resolve(r.Context(), domain)
			if errors.Is(err, tenant.ErrNotFound) {
				writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant for domain")
				return
			}
			if err != nil {
				logger.Error("tenant resolution failed", "domain", domain, "error", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "tenant resolution failed")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyTenant, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
