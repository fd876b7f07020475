package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/roadscope/rs-fleet/internal/audit"
)

func TestSpoolAppendAndReplay(t *testing.T) {
	spool, err := audit.NewSpool(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}

	chain := audit.NewChain(nil)
	recs := buildRecords(t, chain, 2, 1, audit.GenesisHash)
	for _, rec := range recs {
		if err := spool.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if depth := spool.Depth(); depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}

	store := &fakeStore{}
	replayed, err := spool.Replay(context.Background(), store)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 2 {
		t.Errorf("replayed = %d, want 2", replayed)
	}
	if depth := spool.Depth(); depth != 0 {
		t.Errorf("depth after replay = %d, want 0", depth)
	}

	got := store.records()
	if len(got) != 2 {
		t.Fatalf("store has %d records, want 2", len(got))
	}
	if got[0].RecordID != recs[0].RecordID || got[0].RecordHash != recs[0].RecordHash {
		t.Errorf("replayed record altered: got %s/%s", got[0].RecordID, got[0].RecordHash)
	}
}

func TestSpoolReplayRequeuesOnStoreFailure(t *testing.T) {
	spool, err := audit.NewSpool(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}

	chain := audit.NewChain(nil)
	for _, rec := range buildRecords(t, chain, 2, 1, audit.GenesisHash) {
		if err := spool.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	store := &fakeStore{err: errors.New("still down")}
	replayed, err := spool.Replay(context.Background(), store)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 0 {
		t.Errorf("replayed = %d against a down store, want 0", replayed)
	}
	if depth := spool.Depth(); depth != 2 {
		t.Errorf("depth after failed replay = %d, want 2 requeued", depth)
	}

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	replayed, err = spool.Replay(context.Background(), store)
	if err != nil {
		t.Fatalf("Replay after recovery: %v", err)
	}
	if replayed != 2 {
		t.Errorf("replayed = %d after recovery, want 2", replayed)
	}
	if depth := spool.Depth(); depth != 0 {
		t.Errorf("depth after recovery = %d, want 0", depth)
	}
}

func TestSpoolReplayEmpty(t *testing.T) {
	spool, err := audit.NewSpool(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}

	replayed, err := spool.Replay(context.Background(), &fakeStore{})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 0 {
		t.Errorf("replayed = %d from an empty spool, want 0", replayed)
	}
}

func TestSpoolSizeBound(t *testing.T) {
	spool, err := audit.NewSpool(t.TempDir(), 64)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}

	chain := audit.NewChain(nil)
	recs := buildRecords(t, chain, 2, 1, audit.GenesisHash)

	// The bound is checked against the existing file, so the first
	// append always lands.
	if err := spool.Append(recs[0]); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := spool.Append(recs[1]); err == nil {
		t.Error("append past the size bound succeeded")
	}
	if depth := spool.Depth(); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}
