package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/roadscope/rs-fleet/internal/metrics"
)

// Ledger owns chain continuity: the monotonic sequence counter and the
// last committed hash. One instance per process, constructed in main and
// handed to callers; there is no package-level state.
type Ledger struct {
	store   RecordStore
	fanout  *Coordinator
	chain   *Chain
	builder *RecordBuilder

	// RestartMarker, when set, records a SYSTEM_EVENT/CHAIN_RESTART
	// entry after initializing from a non-empty store, so chain
	// resumption points are themselves on the chain.
	RestartMarker bool

	// OnCommit observes every committed record after the storage
	// attempt completes. Must not block; the live feed hangs off this.
	OnCommit func(*ImmutableAuditRecord)

	Metrics *metrics.Collector

	mu       sync.Mutex
	sequence uint64
	lastHash string

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
}

func NewLedger(store RecordStore, fanout *Coordinator, chain *Chain) *Ledger {
	return &Ledger{
		store:   store,
		fanout:  fanout,
		chain:   chain,
		builder: NewRecordBuilder(chain),
	}
}

// Initialize adopts the durable baseline: the latest stored record's
// sequence number and hash, or sequence 0 with the genesis sentinel for
// an empty store. Runs at most once per process lifetime; repeat calls
// return the first outcome. LogEvent refuses to run before this
// succeeds.
func (l *Ledger) Initialize(ctx context.Context) error {
	l.initOnce.Do(func() {
		latest, err := l.store.Latest(ctx)
		if err != nil {
			l.initErr = fmt.Errorf("fetch chain baseline: %w", err)
			return
		}
		resumed := latest != nil
		if resumed {
			l.sequence = latest.SequenceNumber
			l.lastHash = latest.RecordHash
		}
		l.ready.Store(true)
		log.Printf("Audit: ledger initialized at sequence %d", l.sequence)

		if l.RestartMarker && resumed {
			if _, err := l.LogEvent(ctx, restartEvent()); err != nil {
				log.Printf("WARN: chain restart marker not recorded: %v", err)
			}
		}
	})
	return l.initErr
}

// LogEvent validates the event, assigns it the next chain position,
// builds the immutable record and fans it out to storage. The returned
// record always carries its per-backend flags; an error accompanies it
// only for durability-policy violations. Validation failures and
// internal build errors consume no sequence number.
func (l *Ledger) LogEvent(ctx context.Context, event AuditEvent) (*ImmutableAuditRecord, error) {
	if !l.ready.Load() {
		return nil, ErrNotInitialized
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	// Assignment through hash computation stays under one lock:
	// concurrent callers must never share a sequence number, and the
	// next caller's previous-hash must be this record's hash.
	l.mu.Lock()
	rec, err := l.builder.Build(event, l.sequence+1, l.lastHash)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	rec.BlockchainVerified = l.chain.VerifyLink(rec, l.lastHash)
	l.sequence = rec.SequenceNumber
	l.lastHash = rec.RecordHash
	l.mu.Unlock()

	if !rec.BlockchainVerified && l.Metrics != nil {
		l.Metrics.ChainBreak()
	}

	err = l.fanout.Persist(ctx, rec)

	if l.Metrics != nil {
		l.Metrics.RecordCommitted(string(rec.EventType), string(rec.Result))
	}
	if l.OnCommit != nil {
		l.OnCommit(rec)
	}
	return rec, err
}

// Sequence reports the last committed sequence number.
func (l *Ledger) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

func restartEvent() AuditEvent {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return AuditEvent{
		EventType:   EventSystem,
		Action:      ActionChainRestart,
		UserID:      "system",
		Resource:    "audit_ledger",
		ResourceID:  host,
		Result:      ResultSuccess,
		Sensitivity: SensitivityInternal,
		Details:     map[string]any{"reason": "process restart"},
	}
}
