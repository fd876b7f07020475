package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/roadscope/rs-fleet/internal/audit"
)

// Auditor is the slice of the ledger the gate needs.
type Auditor interface {
	LogEvent(ctx context.Context, event audit.AuditEvent) (*audit.ImmutableAuditRecord, error)
}

// AuditGate records denied requests. Successful operations are
// audited by the services that perform them; duplicating them here
// would double every trail entry, so the gate only watches for 401
// and 403 responses.
type AuditGate struct {
	ledger Auditor
}

func NewAuditGate(l Auditor) *AuditGate {
	return &AuditGate{ledger: l}
}

func (g *AuditGate) LogDenials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseCapture{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		if ww.status != http.StatusUnauthorized && ww.status != http.StatusForbidden {
			return
		}

		evt := audit.AuditEvent{
			EventType:   audit.EventSecurity,
			Action:      audit.ActionAccessDenied,
			UserID:      "anonymous",
			Resource:    "http_route",
			ResourceID:  truncate(r.URL.Path, 100),
			Result:      audit.ResultFailure,
			Sensitivity: audit.SensitivityInternal,
			IPAddress:   truncate(extractIP(r), 50),
			UserAgent:   truncate(r.UserAgent(), 255),
			Details: map[string]any{
				"status": ww.status,
				"method": r.Method,
			},
		}
		if ac, ok := GetAuthContext(r.Context()); ok {
			evt.UserID = ac.UserID
			evt.UserRoles = ac.Roles
			evt.SessionID = ac.SessionID
		}

		// Written off the request path so the denial response is not
		// held up by storage latency.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = g.ledger.LogEvent(ctx, evt)
		}()
	})
}

type responseCapture struct {
	http.ResponseWriter
	status int
}

func (w *responseCapture) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
