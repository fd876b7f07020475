package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordBuilder assembles an ImmutableAuditRecord from an event plus the
// sequence/previous-hash pair the ledger assigned. The clock and id
// source are injectable for tests.
type RecordBuilder struct {
	chain *Chain
	now   func() time.Time
	newID func() string
}

func NewRecordBuilder(chain *Chain) *RecordBuilder {
	return &RecordBuilder{
		chain: chain,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Build fills identity, retention and chain metadata and computes the
// record hash. Events without a timestamp are stamped at build time.
func (b *RecordBuilder) Build(event AuditEvent, seq uint64, prevHash string) (*ImmutableAuditRecord, error) {
	// TIMESTAMPTZ stores microseconds; hashing finer precision would
	// break offline verification of records read back from the store.
	now := b.now().UTC().Truncate(time.Microsecond)
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	} else {
		event.Timestamp = event.Timestamp.UTC().Truncate(time.Microsecond)
	}

	days := RetentionDays(event.Sensitivity, event.EventType)
	rec := &ImmutableAuditRecord{
		AuditEvent:         event,
		RecordID:           b.newID(),
		SequenceNumber:     seq,
		PreviousRecordHash: prevHash,
		RetentionDays:      days,
		AutoDeleteAt:       AutoDeleteAt(now, days),
		CreatedAt:          now,
	}

	hash, err := b.chain.ComputeHash(rec)
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}
	rec.RecordHash = hash
	return rec, nil
}
