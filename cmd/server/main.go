package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/roadscope/rs-fleet/internal/api"
	"github.com/roadscope/rs-fleet/internal/audit"
	"github.com/roadscope/rs-fleet/internal/blob"
	"github.com/roadscope/rs-fleet/internal/data"
	"github.com/roadscope/rs-fleet/internal/live"
	"github.com/roadscope/rs-fleet/internal/metrics"
	"github.com/roadscope/rs-fleet/internal/middleware"
	"github.com/roadscope/rs-fleet/internal/platform/paths"
	"github.com/roadscope/rs-fleet/internal/ratelimit"
	"github.com/roadscope/rs-fleet/internal/session"
	"github.com/roadscope/rs-fleet/internal/siem"
	"github.com/roadscope/rs-fleet/internal/tokens"
	"github.com/roadscope/rs-fleet/internal/vehicles"
)

const serviceName = "rs-fleet-audit"

// scopeLimit is the yaml shape for one rate limit scope. Windows are
// milliseconds in the file and converted to durations here.
type scopeLimit struct {
	Limit    int `yaml:"limit"`
	WindowMs int `yaml:"window_ms"`
}

type rootConfig struct {
	Audit struct {
		Policy           audit.Policy `yaml:"policy"`
		BackendTimeoutMs int          `yaml:"backend_timeout_ms"`
		Spool            struct {
			Dir                   string `yaml:"dir"`
			MaxBytes              int64  `yaml:"max_bytes"`
			ReplayIntervalSeconds int    `yaml:"replay_interval_seconds"`
		} `yaml:"spool"`
		RestartMarker bool   `yaml:"restart_marker"`
		HMACKeyEnv    string `yaml:"hmac_key_env"`
	} `yaml:"audit"`
	Blob struct {
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Dir      string `yaml:"dir"`
	} `yaml:"blob"`
	SIEM struct {
		Subject string `yaml:"subject"`
	} `yaml:"siem"`
	RateLimit struct {
		Enabled bool `yaml:"enabled"`
		Scopes  struct {
			Login scopeLimit `yaml:"login"`
			API   scopeLimit `yaml:"api"`
		} `yaml:"scopes"`
	} `yaml:"rate_limit"`
}

// siemDisabled stands in when no broker is reachable at boot. Sends
// always fail so storage flags and metrics reflect reality.
type siemDisabled struct{}

func (siemDisabled) Send(ctx context.Context, env audit.SIEMEnvelope) error {
	return errors.New("siem transport not configured")
}

func main() {
	// 1. Load Configuration & Secrets
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	var cfg rootConfig
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		log.Printf("Warning: config %s not read (%v), using defaults", cfgPath, err)
	} else if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("Config parse error: %v", err)
	}
	if cfg.Audit.BackendTimeoutMs <= 0 {
		cfg.Audit.BackendTimeoutMs = int(audit.DefaultBackendTimeout / time.Millisecond)
	}
	if cfg.Audit.Spool.Dir == "" {
		cfg.Audit.Spool.Dir = paths.SpoolDir()
	}
	if cfg.Audit.Spool.MaxBytes <= 0 {
		cfg.Audit.Spool.MaxBytes = 256 << 20
	}
	if cfg.Audit.Spool.ReplayIntervalSeconds <= 0 {
		cfg.Audit.Spool.ReplayIntervalSeconds = 30
	}
	if cfg.SIEM.Subject == "" {
		cfg.SIEM.Subject = siem.DefaultSubject
	}
	if cfg.RateLimit.Scopes.Login.Limit <= 0 {
		cfg.RateLimit.Scopes.Login = scopeLimit{Limit: 10, WindowMs: 60000}
	}
	if cfg.RateLimit.Scopes.API.Limit <= 0 {
		cfg.RateLimit.Scopes.API = scopeLimit{Limit: 300, WindowMs: 60000}
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSSL := os.Getenv("DB_SSLMODE")
	redisAddr := os.Getenv("REDIS_ADDR")
	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	jwtIssuer := os.Getenv("JWT_ISSUER")
	allowedOrigin := os.Getenv("ALLOWED_ORIGIN")

	if dbPort == "" {
		dbPort = "5432"
	}
	if dbSSL == "" {
		dbSSL = "disable"
	}
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
		log.Printf("Warning: JWT_SIGNING_KEY not set, using dev secret")
	}
	if jwtIssuer == "" {
		jwtIssuer = "rs-idp"
	}
	if allowedOrigin == "" {
		allowedOrigin = "http://localhost:5173"
	}

	// 2. Database
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	// 3. Redis (sessions, lockouts, rate limits)
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: redis ping failed: %v. Sessions and rate limits degraded until it recovers.", err)
	}

	// 4. NATS + SIEM transport. The broker being down must not stop the
	// service, so the connection retries in the background and the
	// forwarder's breaker absorbs the outage.
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	var siemWriter audit.SIEMWriter = siemDisabled{}
	nc, err := nats.Connect(natsURL,
		nats.Name(serviceName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Printf("Warning: NATS connect failed: %v. SIEM forwarding disabled.", err)
		nc = nil
	} else {
		defer nc.Close()
		siemWriter = siem.NewNATSForwarder(nc, cfg.SIEM.Subject)
	}

	// 5. Blob store. Without a bucket the filesystem store keeps
	// development and single-node installs working.
	var blobStore audit.BlobStore
	if cfg.Blob.Dir == "" && cfg.Blob.Bucket == "" {
		cfg.Blob.Dir = paths.BlobDir()
	}
	if cfg.Blob.Dir != "" {
		blobStore, err = blob.NewDirStore(cfg.Blob.Dir)
		if err != nil {
			log.Fatalf("Blob dir store error: %v", err)
		}
	} else {
		blobStore, err = blob.NewS3Store(context.Background(), blob.Config{
			Bucket:    cfg.Blob.Bucket,
			Region:    cfg.Blob.Region,
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: os.Getenv("BLOB_ACCESS_KEY"),
			SecretKey: os.Getenv("BLOB_SECRET_KEY"),
		})
		if err != nil {
			log.Fatalf("Blob S3 store error: %v", err)
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Audit pipeline
	recordModel := data.AuditRecordModel{DB: db}
	vehicleModel := data.VehicleModel{DB: db}

	collector := metrics.NewCollector(metrics.Config{DB: db, Redis: rdb, NATS: nc})

	spool, err := audit.NewSpool(cfg.Audit.Spool.Dir, cfg.Audit.Spool.MaxBytes)
	if err != nil {
		log.Fatalf("Audit spool error: %v", err)
	}
	spool.Metrics = collector

	fanout := audit.NewCoordinator(recordModel, blobStore, siemWriter)
	fanout.Spool = spool
	fanout.Policy = cfg.Audit.Policy
	fanout.Timeout = time.Duration(cfg.Audit.BackendTimeoutMs) * time.Millisecond
	fanout.Metrics = collector

	var hmacKey []byte
	if cfg.Audit.HMACKeyEnv != "" {
		if v := os.Getenv(cfg.Audit.HMACKeyEnv); v != "" {
			hmacKey = []byte(v)
		} else {
			log.Printf("Warning: %s not set, record hashes use plain SHA-256", cfg.Audit.HMACKeyEnv)
		}
	}
	chain := audit.NewChain(hmacKey)

	ledger := audit.NewLedger(recordModel, fanout, chain)
	ledger.RestartMarker = cfg.Audit.RestartMarker
	ledger.Metrics = collector

	initCtx, cancelInit := context.WithTimeout(rootCtx, 15*time.Second)
	err = ledger.Initialize(initCtx)
	cancelInit()
	if err != nil {
		log.Fatalf("Ledger init error: %v", err)
	}
	log.Printf("Audit ledger ready at sequence %d", ledger.Sequence())

	feed := live.NewFeed(collector)
	ledger.OnCommit = feed.Publish

	spool.StartReplayer(rootCtx, recordModel, time.Duration(cfg.Audit.Spool.ReplayIntervalSeconds)*time.Second)
	go collector.Start(rootCtx)

	// 7. Managers & services
	tokenMgr := tokens.NewManager(jwtKey, jwtIssuer)
	sessionMgr := session.NewManager(rdb)
	vehicleSvc := vehicles.NewService(vehicleModel, ledger)

	auditHandler := &api.AuditHandler{Ledger: ledger, Records: recordModel, Chain: chain}
	authHandler := &api.AuthHandler{Tokens: tokenMgr, Session: sessionMgr, Ledger: ledger}
	vehicleHandler := &api.VehicleHandler{Service: vehicleSvc}
	streamHandler := api.NewStreamHandler(tokenMgr, sessionMgr, feed, ledger)
	healthHandler := &api.HealthHandler{DB: db, Redis: rdb, NATS: nc, Ledger: ledger}

	jwtAuth := middleware.NewJWTAuth(tokenMgr, sessionMgr)
	auditGate := middleware.NewAuditGate(ledger)

	limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATE_LIMIT_SALT"))
	rlMiddleware := middleware.NewRateLimitMiddleware(limiter, middleware.Config{
		GlobalIP: ratelimit.LimitConfig{
			Rate:   cfg.RateLimit.Scopes.API.Limit,
			Window: time.Duration(cfg.RateLimit.Scopes.API.WindowMs) * time.Millisecond,
		},
		Login: ratelimit.LimitConfig{
			Rate:   cfg.RateLimit.Scopes.Login.Limit,
			Window: time.Duration(cfg.RateLimit.Scopes.Login.WindowMs) * time.Millisecond,
		},
	})

	// 8. Routing
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigin))
	r.Use(middleware.Metrics(collector))
	r.Use(auditGate.LogDenials)

	r.Get("/healthz", healthHandler.GetHealth)
	r.Method(http.MethodGet, "/metrics", collector.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The live feed holds its socket open, so it stays outside the
		// request timeout. It validates its own token.
		r.Get("/audit/stream", streamHandler.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(30 * time.Second))
			if cfg.RateLimit.Enabled {
				r.Use(rlMiddleware.GlobalLimiter)
			}

			r.Group(func(r chi.Router) {
				if cfg.RateLimit.Enabled {
					r.Use(rlMiddleware.LoginLimiter)
				}
				r.Post("/auth/callback", authHandler.Callback)
			})

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)

				r.Post("/auth/logout", authHandler.Logout)
				r.Post("/audit/events", auditHandler.IngestEvent)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole("auditor", "fleet_admin"))
					r.Get("/audit/records", auditHandler.GetRecords)
					r.Get("/audit/records/{id}", auditHandler.GetRecord)
					r.Get("/audit/export", auditHandler.ExportRecords)
					r.Post("/audit/verify", auditHandler.VerifyChain)
				})

				r.Get("/vehicles", vehicleHandler.ListVehicles)
				r.Get("/vehicles/{id}", vehicleHandler.GetVehicle)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole("fleet_admin", "dispatcher"))
					r.Post("/vehicles", vehicleHandler.CreateVehicle)
					r.Put("/vehicles/{id}", vehicleHandler.UpdateVehicle)
					r.Delete("/vehicles/{id}", vehicleHandler.DeleteVehicle)
				})
			})
		})
	})

	// 9. Start Server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("%s listening on :%s", serviceName, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// 10. Graceful Shutdown
	<-rootCtx.Done()
	log.Printf("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	log.Printf("Server stopped")
}
