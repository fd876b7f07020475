package session_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/roadscope/rs-fleet/internal/session"
)

func newTestManager(t *testing.T) (*session.Manager, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return session.NewManager(rdb), rdb
}

func TestSessionLifecycle(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.CreateSession(ctx, "u1", "sess-1", []string{"fleet_admin", "auditor"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// 1. Lookup returns the stored session
	s, err := mgr.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.UserID != "u1" {
		t.Errorf("Expected user u1, got %s", s.UserID)
	}
	if len(s.Roles) != 2 || s.Roles[1] != "auditor" {
		t.Errorf("Roles not preserved: %v", s.Roles)
	}

	// 2. Revoke removes it
	if err := mgr.RevokeSession(ctx, "sess-1"); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := mgr.GetSession(ctx, "sess-1"); err != session.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionBounding(t *testing.T) {
	mgr, rdb := newTestManager(t)
	ctx := context.Background()

	// Create one more than the cap
	for i := 0; i < session.MaxSessionsPerUser+1; i++ {
		sid := fmt.Sprintf("sess-%d", i)
		if err := mgr.CreateSession(ctx, "u1", sid, nil); err != nil {
			t.Fatalf("CreateSession %s: %v", sid, err)
		}
	}

	// Oldest entry is evicted from the user set
	count, err := rdb.ZCard(ctx, "user_sessions:u1").Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if count != session.MaxSessionsPerUser {
		t.Errorf("Expected %d tracked sessions, got %d", session.MaxSessionsPerUser, count)
	}

	if err := mgr.RevokeAllUserSessions(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAllUserSessions: %v", err)
	}
	for i := 1; i <= session.MaxSessionsPerUser; i++ {
		sid := fmt.Sprintf("sess-%d", i)
		if _, err := mgr.GetSession(ctx, sid); err != session.ErrSessionNotFound {
			t.Errorf("Expected %s revoked, got %v", sid, err)
		}
	}
}

func TestLockoutThreshold(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	// 1. Not locked initially
	locked, err := mgr.CheckLockout(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckLockout: %v", err)
	}
	if locked {
		t.Error("Expected unlocked before any failures")
	}

	// 2. Below threshold stays unlocked
	for i := 0; i < session.LockoutThreshold-1; i++ {
		tripped, err := mgr.RecordFailedAttempt(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailedAttempt: %v", err)
		}
		if tripped {
			t.Errorf("Attempt %d tripped the lock below threshold", i+1)
		}
	}
	locked, _ = mgr.CheckLockout(ctx, "u1")
	if locked {
		t.Error("Expected unlocked below threshold")
	}

	// 3. Threshold trips the lock
	tripped, err := mgr.RecordFailedAttempt(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailedAttempt: %v", err)
	}
	if !tripped {
		t.Error("Expected the threshold attempt to report the trip")
	}
	locked, _ = mgr.CheckLockout(ctx, "u1")
	if !locked {
		t.Error("Expected locked at threshold")
	}
}

func TestClearFailuresResetsCounter(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < session.LockoutThreshold-1; i++ {
		_, _ = mgr.RecordFailedAttempt(ctx, "u1")
	}
	if err := mgr.ClearFailures(ctx, "u1"); err != nil {
		t.Fatalf("ClearFailures: %v", err)
	}

	// One more failure should not lock since the counter was reset
	_, _ = mgr.RecordFailedAttempt(ctx, "u1")
	locked, _ := mgr.CheckLockout(ctx, "u1")
	if locked {
		t.Error("Expected unlocked after counter reset")
	}
}
