// Package httpapi adapts the authorization gate to net/http: it
// translates gate results into the service's response contract and
// attaches the resolved principal to the request context for
// downstream handlers.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pantrykit/authgate/internal/audit"
	"github.com/pantrykit/authgate/internal/auth"
	"github.com/pantrykit/authgate/internal/metrics"
)

// HeaderName is the inbound credential header. Header lookup through
// net/http is case-insensitive.
const HeaderName = "CF_Authorization"

// Rejection bodies, fixed by the response contract.
const (
	msgMissingHeader  = "Missing CF_Authorization header"
	msgInvalidHeader  = "Invalid CF_Authorization header"
	msgInsufficient   = "Insufficient permissions"
	msgEditorRequired = "Editor role required for this operation"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	principalContextKey contextKey = "principal"
	requestIDContextKey contextKey = "request_id"
)

// GetPrincipal extracts the authenticated Principal from a request
// context.
func GetPrincipal(ctx context.Context) (*auth.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*auth.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("no principal in context")
	}
	return principal, nil
}

// GetRequestID returns the request ID assigned by RequestID middleware,
// or empty.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// Middleware wires the gate into an HTTP handler chain with metrics
// and audit recording.
type Middleware struct {
	gate    *auth.Gate
	metrics *metrics.Metrics
	trail   *audit.Trail
	logger  *zap.Logger
}

// NewMiddleware creates the gate middleware. Metrics and trail are
// optional.
func NewMiddleware(gate *auth.Gate, m *metrics.Metrics, trail *audit.Trail, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{gate: gate, metrics: m, trail: trail, logger: logger}
}

// Protect returns middleware that authenticates the request and, for
// an editor minimum, checks the resolved role. Authentication failures
// reject with 401 before any role evaluation; 403 is reachable only
// after successful authentication.
func (m *Middleware) Protect(minimum auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			principal, err := m.gate.Authenticate(r.Context(), r.Header.Get(HeaderName))
			if err != nil {
				m.reject(w, r, err, start)
				return
			}

			if err := auth.RequireRole(principal, minimum); err != nil {
				m.record(r, metrics.OutcomeDenied, principal, err.Error(), start)
				writeError(w, http.StatusForbidden, msgInsufficient, msgEditorRequired)
				return
			}

			m.record(r, metrics.OutcomeAllowed, principal, "", start)

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate protects a route at viewer level: any authenticated
// principal passes.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return m.Protect(auth.RoleViewer)(next)
}

// RequireEditor protects a route at editor level.
func (m *Middleware) RequireEditor(next http.Handler) http.Handler {
	return m.Protect(auth.RoleEditor)(next)
}

// reject maps an authentication error onto the 401 contract. Callers
// downstream never see sub-causes beyond the two message variants; the
// precise reason goes to the log and audit trail only.
func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	if errors.Is(err, auth.ErrMissingHeader) {
		m.record(r, metrics.OutcomeMissingHeader, nil, err.Error(), start)
		writeError(w, http.StatusUnauthorized, msgMissingHeader, "")
		return
	}

	m.logger.Warn("authentication failed",
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("request_id", GetRequestID(r.Context())),
	)
	m.record(r, metrics.OutcomeUnauthorized, nil, err.Error(), start)
	writeError(w, http.StatusUnauthorized, msgInvalidHeader, "")
}

// record emits the decision to metrics and the audit trail.
func (m *Middleware) record(r *http.Request, outcome string, principal *auth.Principal, reason string, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordDecision(outcome, time.Since(start))
	}
	if m.trail != nil {
		event := &audit.Event{
			RequestID: GetRequestID(r.Context()),
			Outcome:   outcome,
			Reason:    reason,
			Method:    r.Method,
			Path:      r.URL.Path,
		}
		if principal != nil {
			event.Principal = principal.ID
			event.Role = string(principal.Role)
		}
		m.trail.Record(event)
	}
}

// RequestID assigns a UUID to each request and echoes it in the
// X-Request-Id response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs one line per request.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// Recovery converts handler panics into 500 responses.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "Internal server error", "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}
