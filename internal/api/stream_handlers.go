package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roadscope/rs-fleet/internal/audit"
	"github.com/roadscope/rs-fleet/internal/live"
	"github.com/roadscope/rs-fleet/internal/session"
	"github.com/roadscope/rs-fleet/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

const feedWriteTimeout = 10 * time.Second

// StreamHandler pushes committed audit records to dashboard websockets.
type StreamHandler struct {
	Tokens   *tokens.Manager
	Sessions *session.Manager
	Feed     *live.Feed
	Ledger   Auditor
}

func NewStreamHandler(tm *tokens.Manager, sm *session.Manager, feed *live.Feed, ledger Auditor) *StreamHandler {
	return &StreamHandler{Tokens: tm, Sessions: sm, Feed: feed, Ledger: ledger}
}

// ServeWS upgrades to a websocket and streams the live audit feed.
// GET /api/v1/audit/stream?token=...
//
// Browsers cannot set Authorization headers on websocket dials, so the
// token rides in the query string and is validated here instead of by
// the JWT middleware.
func (h *StreamHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	claims, err := h.Tokens.ValidateToken(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	// Same fail-closed session check the HTTP middleware performs.
	if h.Sessions != nil {
		if _, err := h.Sessions.GetSession(r.Context(), claims.ID); err != nil {
			writeError(w, http.StatusUnauthorized, "session revoked or expired")
			return
		}
	}

	if !streamRoleAllowed(claims.Roles) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.auditStreamOpen(r, claims)

	msgs, cancel := h.Feed.Subscribe()
	defer cancel()

	// Reader exists only to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, open := <-msgs:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func streamRoleAllowed(roles []string) bool {
	for _, role := range roles {
		if role == "auditor" || role == "fleet_admin" {
			return true
		}
	}
	return false
}

func (h *StreamHandler) auditStreamOpen(r *http.Request, claims *tokens.Claims) {
	_, err := h.Ledger.LogEvent(r.Context(), audit.AuditEvent{
		EventType:   audit.EventDataAccess,
		Action:      audit.ActionRead,
		UserID:      claims.UserID(),
		UserRoles:   claims.Roles,
		Resource:    "audit_stream",
		ResourceID:  "live",
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityInternal,
		SessionID:   claims.ID,
	})
	if err != nil {
		log.Printf("WARN: stream open audit event failed: %v", err)
	}
}
