package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/roadscope/rs-fleet/internal/api"
	"github.com/roadscope/rs-fleet/internal/live"
	"github.com/roadscope/rs-fleet/internal/session"
	"github.com/roadscope/rs-fleet/internal/tokens"
)

func newStreamFixture(t *testing.T) (*api.StreamHandler, *tokens.Manager, *session.Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tokenMgr := tokens.NewManager("test-signing-key", "rs-idp")
	sessionMgr := session.NewManager(rdb)
	handler := api.NewStreamHandler(tokenMgr, sessionMgr, live.NewFeed(nil), &MockLedger{})
	return handler, tokenMgr, sessionMgr
}

func TestStreamRejectsMissingToken(t *testing.T) {
	handler, _, _ := newStreamFixture(t)

	w := httptest.NewRecorder()
	handler.ServeWS(w, httptest.NewRequest("GET", "/api/v1/audit/stream", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStreamRejectsRevokedSession(t *testing.T) {
	handler, tokenMgr, _ := newStreamFixture(t)

	// Token is valid but no session was ever created for its jti.
	token, _ := tokenMgr.GenerateToken("user-1", []string{"auditor"}, time.Hour)

	w := httptest.NewRecorder()
	handler.ServeWS(w, httptest.NewRequest("GET", "/api/v1/audit/stream?token="+token, nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for session-less token, got %d", w.Code)
	}
}

func TestStreamRejectsInsufficientRole(t *testing.T) {
	handler, tokenMgr, sessionMgr := newStreamFixture(t)

	token, _ := tokenMgr.GenerateToken("user-1", []string{"dispatcher"}, time.Hour)
	claims, _ := tokenMgr.ValidateToken(token)
	if err := sessionMgr.CreateSession(context.Background(), "user-1", claims.ID, claims.Roles); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	handler.ServeWS(w, httptest.NewRequest("GET", "/api/v1/audit/stream?token="+token, nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-auditor role, got %d", w.Code)
	}
}
