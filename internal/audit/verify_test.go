package audit_test

import (
	"context"
	"testing"

	"github.com/roadscope/rs-fleet/internal/audit"
)

// fakeRangeReader serves records from a slice. It caps each batch at two
// rows to force the verifier's carry logic even on small fixtures.
type fakeRangeReader struct {
	records []*audit.ImmutableAuditRecord
}

func (f *fakeRangeReader) Range(ctx context.Context, from, to uint64, limit int) ([]*audit.ImmutableAuditRecord, error) {
	if limit > 2 {
		limit = 2
	}
	var out []*audit.ImmutableAuditRecord
	for _, rec := range f.records {
		if rec.SequenceNumber < from || rec.SequenceNumber > to {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRangeReader) MaxSequence(ctx context.Context) (uint64, error) {
	if len(f.records) == 0 {
		return 0, nil
	}
	return f.records[len(f.records)-1].SequenceNumber, nil
}

func TestVerifyStoredIntact(t *testing.T) {
	chain := audit.NewChain(nil)
	reader := &fakeRangeReader{records: buildRecords(t, chain, 5, 1, audit.GenesisHash)}

	report, err := audit.VerifyStored(context.Background(), chain, reader, 0, 0)
	if err != nil {
		t.Fatalf("VerifyStored: %v", err)
	}
	if !report.OK {
		t.Fatalf("intact chain reported broken at %v", report.BrokenAtSequence)
	}
	if report.RecordsChecked != 5 {
		t.Errorf("records checked = %d, want 5", report.RecordsChecked)
	}
}

func TestVerifyStoredEmptyStore(t *testing.T) {
	chain := audit.NewChain(nil)
	report, err := audit.VerifyStored(context.Background(), chain, &fakeRangeReader{}, 0, 0)
	if err != nil {
		t.Fatalf("VerifyStored: %v", err)
	}
	if !report.OK || report.RecordsChecked != 0 {
		t.Errorf("empty store report = %+v, want ok with 0 checked", report)
	}
}

func TestVerifyStoredDetectsCrossBatchBreak(t *testing.T) {
	chain := audit.NewChain(nil)
	recs := buildRecords(t, chain, 6, 1, audit.GenesisHash)

	// Detach record 3 from record 2 and keep it internally consistent.
	// With two-row batches the break sits exactly on a batch boundary,
	// visible only through the carried record.
	recs[2].PreviousRecordHash = "severed"
	hash, err := chain.ComputeHash(recs[2])
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	recs[2].RecordHash = hash

	report, err := audit.VerifyStored(context.Background(), chain, &fakeRangeReader{records: recs}, 0, 0)
	if err != nil {
		t.Fatalf("VerifyStored: %v", err)
	}
	if report.OK {
		t.Fatal("severed chain verified")
	}
	if report.BrokenAtSequence == nil || *report.BrokenAtSequence != 3 {
		t.Errorf("broken at %v, want sequence 3", report.BrokenAtSequence)
	}
	if report.RecordsChecked != 3 {
		t.Errorf("records checked = %d, want 3", report.RecordsChecked)
	}
}

func TestVerifyStoredScopedRange(t *testing.T) {
	chain := audit.NewChain(nil)
	recs := buildRecords(t, chain, 6, 1, audit.GenesisHash)

	report, err := audit.VerifyStored(context.Background(), chain, &fakeRangeReader{records: recs}, 3, 5)
	if err != nil {
		t.Fatalf("VerifyStored: %v", err)
	}
	if !report.OK {
		t.Fatalf("scoped range reported broken at %v", report.BrokenAtSequence)
	}
	if report.RecordsChecked != 3 {
		t.Errorf("records checked = %d, want 3", report.RecordsChecked)
	}
}

func TestVerifyStoredKeyMismatch(t *testing.T) {
	writeChain := audit.NewChain([]byte("key-a"))
	recs := buildRecords(t, writeChain, 3, 1, audit.GenesisHash)

	verifyChain := audit.NewChain([]byte("key-b"))
	report, err := audit.VerifyStored(context.Background(), verifyChain, &fakeRangeReader{records: recs}, 0, 0)
	if err != nil {
		t.Fatalf("VerifyStored: %v", err)
	}
	if report.OK {
		t.Fatal("chain written with a different key verified")
	}
	if report.BrokenAtSequence == nil || *report.BrokenAtSequence != 1 {
		t.Errorf("broken at %v, want sequence 1", report.BrokenAtSequence)
	}
}
