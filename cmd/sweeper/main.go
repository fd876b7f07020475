package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/roadscope/rs-fleet/internal/data"
)

// sweeper deletes audit records whose retention window has lapsed
// (auto_delete_at in the past). Records with no expiry are never
// touched. Runs once by default; -interval keeps it running.
func main() {
	interval := flag.Duration("interval", 0, "sweep repeatedly at this interval (0 = one-shot)")
	flag.Parse()

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
		envOr("DB_HOST", "localhost"), envOr("DB_PORT", "5432"),
		envOr("DB_NAME", "rs_fleet"), envOr("DB_SSLMODE", "disable"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	store := data.AuditRecordModel{DB: db}

	if *interval <= 0 {
		sweep(context.Background(), store)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Sweeping every %v", *interval)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sweep(ctx, store)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Sweeper stopped")
			return
		case <-ticker.C:
			sweep(ctx, store)
		}
	}
}

func sweep(ctx context.Context, store data.AuditRecordModel) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	deleted, err := store.DeleteExpired(sweepCtx, time.Now().UTC())
	if err != nil {
		log.Printf("Sweep error: %v", err)
		return
	}
	log.Printf("Sweep deleted %d expired records", deleted)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
