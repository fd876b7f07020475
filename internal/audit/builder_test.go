package audit_test

import (
	"testing"
	"time"

	"github.com/roadscope/rs-fleet/internal/audit"
)

func TestBuildTruncatesTimestamps(t *testing.T) {
	builder := audit.NewRecordBuilder(audit.NewChain(nil))

	supplied := testEvent("veh-1")
	supplied.Timestamp = time.Date(2026, 8, 29, 13, 59, 16, 43324948, time.UTC)
	rec, err := builder.Build(supplied, 1, audit.GenesisHash)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := time.Date(2026, 8, 29, 13, 59, 16, 43324000, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("supplied timestamp = %v, want %v", rec.Timestamp, want)
	}

	stamped, err := builder.Build(testEvent("veh-2"), 2, rec.RecordHash)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !stamped.Timestamp.Equal(stamped.Timestamp.Truncate(time.Microsecond)) {
		t.Errorf("stamped timestamp %v carries sub-microsecond precision", stamped.Timestamp)
	}
	if !stamped.CreatedAt.Equal(stamped.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("created_at %v carries sub-microsecond precision", stamped.CreatedAt)
	}
}

// The database column keeps microseconds, so offline verification runs
// over timestamps at that precision. Records must hash the same before
// and after that round trip.
func TestBuildHashSurvivesStoredPrecision(t *testing.T) {
	chain := audit.NewChain(nil)
	builder := audit.NewRecordBuilder(chain)

	prev := audit.GenesisHash
	var stored []*audit.ImmutableAuditRecord
	for i, ns := range []int{43324948, 999999501} {
		event := testEvent("veh-1")
		event.Timestamp = time.Date(2026, 8, 29, 13, 59, 16+i, ns, time.UTC)
		rec, err := builder.Build(event, uint64(i+1), prev)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		prev = rec.RecordHash

		readback := *rec
		readback.Timestamp = rec.Timestamp.Truncate(time.Microsecond)
		stored = append(stored, &readback)
	}

	ok, at := chain.VerifyChain(stored)
	if !ok {
		t.Fatalf("round-tripped chain reported broken at index %d", *at)
	}
}
