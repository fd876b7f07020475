package tokens_test

import (
	"testing"
	"time"

	"github.com/roadscope/rs-fleet/internal/tokens"
)

func TestTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", "rs-idp")
	userID := "user-123"
	roles := []string{"fleet_admin", "auditor"}

	token, err := mgr.GenerateToken(userID, roles, 15*time.Minute)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.UserID() != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID())
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "fleet_admin" {
		t.Errorf("Roles not preserved: %v", claims.Roles)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1", "rs-idp")
	mgr2 := tokens.NewManager("secret-2", "rs-idp")

	token, _ := mgr1.GenerateToken("u1", nil, time.Minute)
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestWrongIssuerRejected(t *testing.T) {
	issuing := tokens.NewManager("shared-secret", "other-idp")
	validating := tokens.NewManager("shared-secret", "rs-idp")

	token, _ := issuing.GenerateToken("u1", nil, time.Minute)
	_, err := validating.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong issuer")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", "rs-idp")

	token, _ := mgr.GenerateToken("u1", nil, -time.Minute)
	_, err := mgr.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for expired token")
	}
}
