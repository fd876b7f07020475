package siem

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/roadscope/rs-fleet/internal/audit"
)

// DefaultSubject is where the SIEM collector subscribes.
const DefaultSubject = "siem.audit.events"

// NATSForwarder delivers audit envelopes to the SIEM ingestion subject.
// A circuit breaker fails fast while the collector is down so a dead SIEM
// costs the fan-out one rejected call instead of a timeout per record;
// the ledger records siem=false either way. No retries here: recovery is
// the operator's concern.
type NATSForwarder struct {
	conn    *nats.Conn
	subject string
	breaker *gobreaker.CircuitBreaker[any]
}

func NewNATSForwarder(conn *nats.Conn, subject string) *NATSForwarder {
	if subject == "" {
		subject = DefaultSubject
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "siem",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &NATSForwarder{conn: conn, subject: subject, breaker: breaker}
}

// Send publishes one envelope. Flush confirms the server accepted it;
// a bare Publish only hands the bytes to the client buffer.
func (f *NATSForwarder) Send(ctx context.Context, env audit.SIEMEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = f.breaker.Execute(func() (any, error) {
		if err := f.conn.Publish(f.subject, data); err != nil {
			return nil, err
		}
		return nil, f.conn.FlushWithContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", f.subject, err)
	}
	return nil
}
