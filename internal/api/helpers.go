package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roadscope/rs-fleet/internal/middleware"
	"github.com/roadscope/rs-fleet/internal/vehicles"
)

// validate is a reusable validator instance shared by all handlers.
var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// clientIP prefers the left-most X-Forwarded-For hop, falling back to the
// socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// actorFromRequest stamps the authenticated caller plus transport facts
// onto the Actor handed to services. Requires JWTAuth upstream.
func actorFromRequest(r *http.Request) (vehicles.Actor, bool) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		return vehicles.Actor{}, false
	}
	return vehicles.Actor{
		UserID:    ac.UserID,
		Roles:     ac.Roles,
		SessionID: ac.SessionID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}, true
}
