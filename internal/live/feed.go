package live

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/roadscope/rs-fleet/internal/audit"
	"github.com/roadscope/rs-fleet/internal/metrics"
)

// clientBuffer bounds how far a subscriber may fall behind before
// messages are dropped for it.
const clientBuffer = 64

// FeedMessage is the envelope pushed to dashboard subscribers.
type FeedMessage struct {
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
}

type client struct {
	send chan []byte
}

// Feed fans committed audit records out to dashboard websocket
// clients. Publishing never blocks the ledger: slow clients lose
// messages instead of stalling commits.
type Feed struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	metrics *metrics.Collector
}

func NewFeed(m *metrics.Collector) *Feed {
	return &Feed{
		clients: make(map[*client]struct{}),
		metrics: m,
	}
}

// Publish delivers one committed record to all subscribers. Wired to
// the ledger's commit hook.
func (f *Feed) Publish(rec *audit.ImmutableAuditRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Printf("WARN: live feed marshal failed for record %s: %v", rec.RecordID, err)
		return
	}
	msg, err := json.Marshal(FeedMessage{Type: "audit_record", Record: raw})
	if err != nil {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			if f.metrics != nil {
				f.metrics.FeedDropped()
			}
		}
	}
}

// Subscribe registers a client and returns its receive channel plus a
// cancel func. The channel is closed on cancel.
func (f *Feed) Subscribe() (<-chan []byte, func()) {
	c := &client{send: make(chan []byte, clientBuffer)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SetFeedClients(n)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.clients, c)
			n := len(f.clients)
			f.mu.Unlock()
			close(c.send)
			if f.metrics != nil {
				f.metrics.SetFeedClients(n)
			}
		})
	}
	return c.send, cancel
}

// ClientCount reports current subscribers.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
