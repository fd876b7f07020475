package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roadscope/rs-fleet/internal/metrics"
)

const spoolFile = "audit_spool.jsonl"

// Spool is the local failover buffer for records the database rejected.
// Records are appended as JSONL with their chain fields intact, so replay
// is a plain durable insert; nothing is re-sequenced or re-hashed.
type Spool struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64

	Metrics *metrics.Collector
}

func NewSpool(dir string, maxBytes int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &Spool{dir: dir, maxBytes: maxBytes}, nil
}

// Append adds one record to the spool. Refuses to grow past the size
// bound so a long database outage cannot fill the disk.
func (s *Spool) Append(rec *ImmutableAuditRecord) error {
	line, err := rec.StoragePayload()
	if err != nil {
		return fmt.Errorf("serialize record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spoolFile)
	if info, err := os.Stat(path); err == nil && info.Size()+int64(len(line))+1 > s.maxBytes {
		return fmt.Errorf("spool full at %d bytes", info.Size())
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Depth counts records currently waiting in the spool.
func (s *Spool) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.dir, spoolFile))
	if err != nil {
		return 0
	}
	return bytes.Count(raw, []byte{'\n'})
}

// Replay drains the spool into the store. The spool file is rotated out
// first so concurrent Appends keep working; records the store still
// rejects are re-queued, unparseable lines are dropped with a log.
func (s *Spool) Replay(ctx context.Context, store RecordStore) (int, error) {
	s.mu.Lock()
	path := filepath.Join(s.dir, spoolFile)
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		s.mu.Unlock()
		return 0, nil
	}
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	replayPath := filepath.Join(s.dir, fmt.Sprintf("replay_%d.jsonl", time.Now().UnixNano()))
	if err := os.Rename(path, replayPath); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("rotate spool: %w", err)
	}
	s.mu.Unlock()

	f, err := os.Open(replayPath)
	if err != nil {
		return 0, err
	}

	var replayed, requeued, dropped int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var rec ImmutableAuditRecord
		dec := json.NewDecoder(bytes.NewReader(scanner.Bytes()))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			dropped++
			continue
		}
		if err := store.Append(ctx, &rec); err != nil {
			if aerr := s.Append(&rec); aerr != nil {
				dropped++
				log.Printf("CRITICAL: audit record %s dropped during replay: %v", rec.RecordID, aerr)
			} else {
				requeued++
			}
			continue
		}
		replayed++
	}
	scanErr := scanner.Err()
	f.Close()
	os.Remove(replayPath)

	if replayed > 0 || requeued > 0 || dropped > 0 {
		log.Printf("Audit: spool replay flushed %d records (requeued %d, dropped %d)", replayed, requeued, dropped)
	}
	if scanErr != nil {
		return replayed, fmt.Errorf("scan spool: %w", scanErr)
	}
	return replayed, nil
}

// StartReplayer runs Replay on an interval until ctx is done.
func (s *Spool) StartReplayer(ctx context.Context, store RecordStore, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Replay(ctx, store); err != nil {
					log.Printf("WARN: audit spool replay: %v", err)
				}
				if s.Metrics != nil {
					s.Metrics.SetSpoolDepth(s.Depth())
				}
			}
		}
	}()
}
