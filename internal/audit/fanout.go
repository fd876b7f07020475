package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roadscope/rs-fleet/internal/metrics"
)

// DefaultBackendTimeout bounds each backend write. The source of record
// for this bound is an operator decision, not the backends themselves: a
// slow SIEM must not hold a request open indefinitely.
const DefaultBackendTimeout = 5 * time.Second

// Policy is the explicit durability contract for a commit attempt.
// The zero value tolerates any combination of backend failures (pure
// best-effort triple redundancy).
type Policy struct {
	// RequireDatabase makes a failed database write surface as
	// ErrDurability. The blob and SIEM writes still run.
	RequireDatabase bool `yaml:"require_database"`
	// MinSuccess is the minimum number of backends (0 to 3) that must
	// accept the write.
	MinSuccess int `yaml:"min_success"`
}

// Coordinator fans one record out to the three storage backends
// concurrently, joins all outcomes, and reconciles them against Policy.
// Failure of one backend never blocks or cancels the others, and no
// retries happen here; the only recovery path is the database spool.
type Coordinator struct {
	Store RecordStore
	Blob  BlobStore
	SIEM  SIEMWriter

	// Spool, when set, captures records the database rejected for
	// later replay.
	Spool   *Spool
	Policy  Policy
	Timeout time.Duration
	Metrics *metrics.Collector
}

func NewCoordinator(store RecordStore, blob BlobStore, siem SIEMWriter) *Coordinator {
	return &Coordinator{
		Store:   store,
		Blob:    blob,
		SIEM:    siem,
		Timeout: DefaultBackendTimeout,
	}
}

// Persist writes the record everywhere, fills in StorageLocations, and
// returns ErrDurability only when Policy was not met. The record payload
// is serialized once, before any backend sees it.
func (c *Coordinator) Persist(ctx context.Context, rec *ImmutableAuditRecord) error {
	payload, err := rec.StoragePayload()
	if err != nil {
		return fmt.Errorf("serialize record: %w", err)
	}
	env := SIEMEnvelope{
		Record:   payload,
		Severity: ClassifySeverity(rec),
		Tags:     SIEMTags(rec),
	}
	key := BlobKey(rec)

	// The commit must run to completion even if the caller's request
	// context dies mid-flight; each backend still gets Timeout.
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	var dbOK, blobOK, siemOK bool
	wg.Add(3)
	go func() {
		defer wg.Done()
		dbOK = c.attempt(base, "database", rec.RecordID, func(ctx context.Context) error {
			return c.Store.Append(ctx, rec)
		})
	}()
	go func() {
		defer wg.Done()
		blobOK = c.attempt(base, "blob_store", rec.RecordID, func(ctx context.Context) error {
			return c.Blob.Put(ctx, key, payload)
		})
	}()
	go func() {
		defer wg.Done()
		siemOK = c.attempt(base, "siem", rec.RecordID, func(ctx context.Context) error {
			return c.SIEM.Send(ctx, env)
		})
	}()
	wg.Wait()

	rec.StorageLocations = StorageLocations{Database: dbOK, BlobStore: blobOK, SIEM: siemOK}

	if !dbOK && c.Spool != nil {
		if serr := c.Spool.Append(rec); serr != nil {
			log.Printf("CRITICAL: audit record %s lost to database and spool: %v", rec.RecordID, serr)
		} else {
			log.Printf("Audit: record %s spooled for database replay", rec.RecordID)
		}
	}

	if c.Policy.RequireDatabase && !dbOK {
		return fmt.Errorf("%w: database write failed", ErrDurability)
	}
	if n := rec.StorageLocations.Count(); n < c.Policy.MinSuccess {
		return fmt.Errorf("%w: %d backends accepted, policy requires %d", ErrDurability, n, c.Policy.MinSuccess)
	}
	return nil
}

func (c *Coordinator) attempt(ctx context.Context, backend, recordID string, write func(context.Context) error) bool {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := write(ctx)
	if c.Metrics != nil {
		c.Metrics.ObservePersist(backend, time.Since(start))
	}
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.StorageFailure(backend)
		}
		log.Printf("WARN: audit %s write failed for record %s: %v", backend, recordID, err)
		return false
	}
	return true
}
