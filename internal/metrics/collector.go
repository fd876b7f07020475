package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Config holds the backend handles the up-probe loop pings. Nil entries
// are skipped.
type Config struct {
	DB    *sql.DB
	Redis *redis.Client
	NATS  *nats.Conn
}

// Collector owns the process registry: ledger counters fed by the audit
// pipeline plus component up-probes refreshed by Start.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	up *prometheus.GaugeVec

	recordsTotal    *prometheus.CounterVec
	storageFailures *prometheus.CounterVec
	chainBreaks     prometheus.Counter
	persistSeconds  *prometheus.HistogramVec
	spoolDepth      prometheus.Gauge

	feedClients prometheus.Gauge
	feedDropped prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec
}

func NewCollector(cfg Config) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		config:   cfg,
		registry: reg,
	}

	c.up = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_up",
		Help: "Status of backend components (1=up, 0=down)",
	}, []string{"component"})
	reg.MustRegister(c.up)

	c.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_audit_records_total",
		Help: "Audit records committed to the ledger",
	}, []string{"event_type", "result"})
	reg.MustRegister(c.recordsTotal)

	c.storageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_audit_storage_failures_total",
		Help: "Per-backend audit write failures",
	}, []string{"backend"})
	reg.MustRegister(c.storageFailures)

	c.chainBreaks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_audit_chain_breaks_total",
		Help: "Records committed with an unverified previous-hash link",
	})
	reg.MustRegister(c.chainBreaks)

	c.persistSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_audit_persist_duration_seconds",
		Help:    "Per-backend audit write latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})
	reg.MustRegister(c.persistSeconds)

	c.spoolDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_audit_spool_depth",
		Help: "Records waiting in the database failover spool",
	})
	reg.MustRegister(c.spoolDepth)

	c.feedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_live_feed_clients",
		Help: "Dashboard clients subscribed to the live audit feed",
	})
	reg.MustRegister(c.feedClients)

	c.feedDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_live_feed_dropped_total",
		Help: "Feed messages dropped because a client fell behind",
	})
	reg.MustRegister(c.feedDropped)

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_http_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "path", "status"})
	reg.MustRegister(c.httpRequests)

	c.httpSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
	reg.MustRegister(c.httpSeconds)

	return c
}

// Start runs the component probe loop until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	c.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if c.config.DB != nil {
		c.up.WithLabelValues("database").Set(boolToGauge(c.config.DB.PingContext(probeCtx) == nil))
	}
	if c.config.Redis != nil {
		c.up.WithLabelValues("redis").Set(boolToGauge(c.config.Redis.Ping(probeCtx).Err() == nil))
	}
	if c.config.NATS != nil {
		c.up.WithLabelValues("nats").Set(boolToGauge(c.config.NATS.IsConnected()))
	}
}

func boolToGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// RecordCommitted counts a record accepted into the chain.
func (c *Collector) RecordCommitted(eventType, result string) {
	c.recordsTotal.WithLabelValues(eventType, result).Inc()
}

// StorageFailure counts one failed backend write (backend is "database",
// "blob_store" or "siem").
func (c *Collector) StorageFailure(backend string) {
	c.storageFailures.WithLabelValues(backend).Inc()
}

// ChainBreak counts a commit whose previous-hash link did not verify.
func (c *Collector) ChainBreak() {
	c.chainBreaks.Inc()
}

// ObservePersist records one backend write duration.
func (c *Collector) ObservePersist(backend string, d time.Duration) {
	c.persistSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// SetSpoolDepth publishes the current failover spool backlog.
func (c *Collector) SetSpoolDepth(n int) {
	c.spoolDepth.Set(float64(n))
}

// SetFeedClients publishes the live feed subscriber count.
func (c *Collector) SetFeedClients(n int) {
	c.feedClients.Set(float64(n))
}

// FeedDropped counts one message dropped on a slow feed client.
func (c *Collector) FeedDropped() {
	c.feedDropped.Inc()
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, path, status string, d time.Duration) {
	c.httpRequests.WithLabelValues(method, path, status).Inc()
	c.httpSeconds.WithLabelValues(method, path).Observe(d.Seconds())
}
