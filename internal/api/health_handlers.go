package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/roadscope/rs-fleet/internal/audit"
)

type HealthHandler struct {
	DB     *sql.DB
	Redis  *redis.Client
	NATS   *nats.Conn
	Ledger *audit.Ledger
}

type healthComponent struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
	SIEM     string `json:"siem_transport"`
}

type healthResponse struct {
	Status        string          `json:"status"`
	Components    healthComponent `json:"components"`
	ChainSequence uint64          `json:"chain_sequence"`
}

// GetHealth reports backend reachability and the chain head.
// GET /healthz
//
// The database is the primary durable store; without it the service
// cannot accept events, so a database failure reports 503. Redis and
// the SIEM transport degrade but do not stop ingestion.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status: "ok",
		Components: healthComponent{
			Database: "up",
			Redis:    "up",
			SIEM:     "up",
		},
	}

	dbDown := false
	if h.DB == nil || h.DB.PingContext(ctx) != nil {
		resp.Components.Database = "down"
		dbDown = true
	}
	if h.Redis == nil || h.Redis.Ping(ctx).Err() != nil {
		resp.Components.Redis = "down"
	}
	if h.NATS == nil || h.NATS.Status() != nats.CONNECTED {
		resp.Components.SIEM = "down"
	}
	if h.Ledger != nil {
		resp.ChainSequence = h.Ledger.Sequence()
	}

	status := http.StatusOK
	if dbDown {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	} else if resp.Components.Redis == "down" || resp.Components.SIEM == "down" {
		resp.Status = "degraded"
	}

	writeJSON(w, status, resp)
}
