package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the previous-hash sentinel for sequence number 1.
const GenesisHash = ""

// Chain computes and verifies record digests. With no key it produces a
// plain SHA-256; with a key it produces HMAC-SHA256, which also defends
// against an operator recomputing a forged but internally consistent
// chain. Verification of keyed chains requires the same key.
type Chain struct {
	key []byte
}

func NewChain(key []byte) *Chain {
	return &Chain{key: key}
}

// chainPayload is the canonical serialization the digest runs over.
// Struct fields marshal in declaration order and map keys sort, so the
// byte sequence is deterministic for logically identical records.
// Storage bookkeeping is excluded on purpose.
type chainPayload struct {
	RecordID   string         `json:"record_id"`
	EventType  EventType      `json:"event_type"`
	Action     Action         `json:"action"`
	UserID     string         `json:"user_id"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Timestamp  string         `json:"timestamp"`
	Result     Result         `json:"result"`
	PrevHash   string         `json:"previous_record_hash"`
	Sequence   uint64         `json:"sequence_number"`
	Details    map[string]any `json:"details,omitempty"`
}

// ComputeHash returns the lowercase hex digest over the record's logical
// fields. Pure: same inputs, same digest.
func (c *Chain) ComputeHash(rec *ImmutableAuditRecord) (string, error) {
	payload := chainPayload{
		RecordID:   rec.RecordID,
		EventType:  rec.EventType,
		Action:     rec.Action,
		UserID:     rec.UserID,
		Resource:   rec.Resource,
		ResourceID: rec.ResourceID,
		Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Result:     rec.Result,
		PrevHash:   rec.PreviousRecordHash,
		Sequence:   rec.SequenceNumber,
		Details:    rec.Details,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chain payload: %w", err)
	}

	if len(c.key) > 0 {
		mac := hmac.New(sha256.New, c.key)
		mac.Write(raw)
		return hex.EncodeToString(mac.Sum(nil)), nil
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyLink reports whether the record links to the expected
// predecessor hash. Used at commit time against the in-memory last hash
// and by offline verification.
func (c *Chain) VerifyLink(rec *ImmutableAuditRecord, expectedPrev string) bool {
	return rec.PreviousRecordHash == expectedPrev
}

// VerifyChain re-walks records (ascending sequence order) recomputing
// every digest and checking linkage and sequence contiguity. Returns the
// index of the first record that fails, if any.
func (c *Chain) VerifyChain(records []*ImmutableAuditRecord) (bool, *int) {
	for i, rec := range records {
		recomputed, err := c.ComputeHash(rec)
		if err != nil || recomputed != rec.RecordHash {
			at := i
			return false, &at
		}
		if i == 0 {
			// A partial range can start anywhere; only sequence 1
			// has a checkable predecessor (the genesis sentinel).
			if rec.SequenceNumber == 1 && rec.PreviousRecordHash != GenesisHash {
				at := i
				return false, &at
			}
			continue
		}
		prev := records[i-1]
		if rec.SequenceNumber != prev.SequenceNumber+1 {
			at := i
			return false, &at
		}
		if !c.VerifyLink(rec, prev.RecordHash) {
			at := i
			return false, &at
		}
	}
	return true, nil
}
