package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/roadscope/rs-fleet/internal/audit"
	"github.com/roadscope/rs-fleet/internal/middleware"
	"github.com/roadscope/rs-fleet/internal/session"
	"github.com/roadscope/rs-fleet/internal/tokens"
)

type AuthHandler struct {
	Tokens  *tokens.Manager
	Session *session.Manager
	Ledger  Auditor
}

type CallbackRequest struct {
	Token string `json:"token" validate:"required"`
}

type CallbackResponse struct {
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Callback exchanges an identity-provider token for a dashboard session.
// POST /api/v1/auth/callback
//
// Every outcome lands on the audit chain: successes as LOGIN_SUCCESS,
// rejections as LOGIN_FAILURE attributed to the unverified subject hint.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.genericError(w)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.genericError(w)
		return
	}

	// Lockout check runs on the claimed subject before signature
	// verification so a locked account cannot burn CPU on hash checks.
	hint := tokens.SubjectHint(req.Token)
	if hint != "" {
		locked, err := h.Session.CheckLockout(r.Context(), lockoutSubject(hint, clientIP(r)))
		if err != nil {
			h.genericError(w)
			return
		}
		if locked {
			h.auditLogin(r, hint, nil, audit.ResultFailure, map[string]any{"reason": "locked_out"})
			h.lockedError(w)
			return
		}
	}

	claims, err := h.Tokens.ValidateToken(req.Token)
	if err != nil {
		h.failWithLockout(w, r, hint)
		return
	}

	// Verified subject may differ from the hint on a forged token.
	locked, err := h.Session.CheckLockout(r.Context(), lockoutSubject(claims.UserID(), clientIP(r)))
	if err != nil {
		h.genericError(w)
		return
	}
	if locked {
		h.auditLogin(r, claims.UserID(), claims.Roles, audit.ResultFailure, map[string]any{"reason": "locked_out"})
		h.lockedError(w)
		return
	}

	if err := h.Session.CreateSession(r.Context(), claims.UserID(), claims.ID, claims.Roles); err != nil {
		h.genericError(w)
		return
	}

	if err := h.Session.ClearFailures(r.Context(), lockoutSubject(claims.UserID(), clientIP(r))); err != nil {
		log.Printf("WARN: clearing lockout counter for %s: %v", claims.UserID(), err)
	}

	h.auditLogin(r, claims.UserID(), claims.Roles, audit.ResultSuccess, nil)

	expiresAt := time.Now().Add(session.SessionTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiresAt) {
		expiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, CallbackResponse{
		UserID:    claims.UserID(),
		Roles:     claims.Roles,
		ExpiresAt: expiresAt,
	})
}

// Logout revokes the calling token's session.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.Session.RevokeSession(r.Context(), ac.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	_, err := h.Ledger.LogEvent(r.Context(), audit.AuditEvent{
		EventType:   audit.EventAuth,
		Action:      audit.ActionLogout,
		UserID:      ac.UserID,
		UserRoles:   ac.Roles,
		Resource:    "session",
		ResourceID:  ac.SessionID,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityInternal,
		SessionID:   ac.SessionID,
	})
	if err != nil {
		log.Printf("WARN: logout audit event failed: %v", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) genericError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "invalid credential or request")
}

func (h *AuthHandler) lockedError(w http.ResponseWriter) {
	writeError(w, http.StatusTooManyRequests, "too many failed attempts")
}

// lockoutSubject scopes failure bookkeeping to user and source address
// so one hostile network cannot lock an account out everywhere.
func lockoutSubject(userID, ip string) string {
	return userID + "|" + ip
}

func (h *AuthHandler) failWithLockout(w http.ResponseWriter, r *http.Request, subject string) {
	if subject == "" {
		subject = "unknown"
	}
	tripped, err := h.Session.RecordFailedAttempt(r.Context(), lockoutSubject(subject, clientIP(r)))
	if err != nil {
		log.Printf("WARN: recording failed attempt for %s: %v", subject, err)
	}
	if tripped {
		h.auditLockout(r, subject)
	}
	h.auditLogin(r, subject, nil, audit.ResultFailure, map[string]any{"reason": "invalid_token"})
	h.genericError(w)
}

func (h *AuthHandler) auditLockout(r *http.Request, userID string) {
	_, err := h.Ledger.LogEvent(r.Context(), audit.AuditEvent{
		EventType:   audit.EventSecurity,
		Action:      audit.ActionAccessDenied,
		UserID:      userID,
		Resource:    "session",
		ResourceID:  userID,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Result:      audit.ResultFailure,
		Sensitivity: audit.SensitivityConfidential,
		Details:     map[string]any{"reason": "lockout_tripped", "failed_attempts": session.LockoutThreshold},
	})
	if err != nil {
		log.Printf("WARN: lockout audit event failed: %v", err)
	}
}

func (h *AuthHandler) auditLogin(r *http.Request, userID string, roles []string, result audit.Result, details map[string]any) {
	action := audit.ActionLoginSuccess
	if result == audit.ResultFailure {
		action = audit.ActionLoginFailure
	}
	_, err := h.Ledger.LogEvent(r.Context(), audit.AuditEvent{
		EventType:   audit.EventAuth,
		Action:      action,
		UserID:      userID,
		UserRoles:   roles,
		Resource:    "session",
		ResourceID:  userID,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Result:      result,
		Sensitivity: audit.SensitivityConfidential,
		Details:     details,
	})
	if err != nil {
		log.Printf("WARN: login audit event failed: %v", err)
	}
}
