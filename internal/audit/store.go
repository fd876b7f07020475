package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// RecordStore is the database path: the ledger's durable baseline and the
// only backend consumers read from.
type RecordStore interface {
	// Append persists one record. Must be all-or-nothing and idempotent
	// on record id, so a spool replay cannot double-insert.
	Append(ctx context.Context, rec *ImmutableAuditRecord) error
	// Latest returns the most recently committed record, or nil when
	// the store is empty.
	Latest(ctx context.Context) (*ImmutableAuditRecord, error)
}

// BlobStore is the write-once object store path. Keys are never
// overwritten.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// SIEMEnvelope is the SIEM wire unit: the record payload plus the derived
// severity and tag facets.
type SIEMEnvelope struct {
	Record   json.RawMessage `json:"record"`
	Severity Severity        `json:"severity"`
	Tags     []string        `json:"tags"`
}

// SIEMWriter forwards an envelope to the SIEM ingestion endpoint.
type SIEMWriter interface {
	Send(ctx context.Context, env SIEMEnvelope) error
}

// BlobKey is the object-store location for a record: date-partitioned by
// creation date, keyed by record id.
func BlobKey(rec *ImmutableAuditRecord) string {
	return fmt.Sprintf("audit-logs/%s/%s.json", rec.CreatedAt.UTC().Format("2006-01-02"), rec.RecordID)
}
