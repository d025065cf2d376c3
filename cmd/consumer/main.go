package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"breadcrumb-pipeline/internal/archive"
	"breadcrumb-pipeline/internal/config"
	"breadcrumb-pipeline/internal/consume"
	"breadcrumb-pipeline/internal/metrics"
	"breadcrumb-pipeline/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database
	dsn := cfg.DatabaseURL
	if cfg.DatabaseName != "" {
		dsn, err = store.WithDBName(dsn, cfg.DatabaseName)
		if err != nil {
			log.Fatalf("compose DSN: %v", err)
		}
	}
	sqlDB, err := store.Open(dsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := store.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	st := store.New(sqlDB)

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.BatchSize, cfg.IdleTimeout)
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Archive encoder: wrap keypair, cold-storage directory, backoff
	pub, err := archive.LoadPublicKey(cfg.ArchivePublicKey)
	if err != nil {
		log.Fatalf("archive public key: %v", err)
	}
	priv, err := archive.LoadPrivateKey(cfg.ArchivePrivateKey)
	if err != nil {
		log.Fatalf("archive private key: %v", err)
	}
	objects, err := archive.NewFSStore(cfg.ArchiveDir)
	if err != nil {
		log.Fatalf("archive store: %v", err)
	}
	encoder := archive.NewEncoder(objects, pub, priv, archive.Backoff{
		Base:        cfg.BackoffBase,
		Cap:         cfg.BackoffCap,
		MaxAttempts: cfg.BackoffMaxAttempts,
	}, encoderMetrics(mcol))

	// NATS JetStream connection
	conn, err := consume.Connect(cfg.NATSURL, "breadcrumb-consumer", cfg.NATSStreamName,
		[]string{cfg.BreadcrumbSubject, cfg.TripSubject}, connMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer conn.Close()

	pipeline := consume.NewPipeline(conn.JetStream(), st, encoder, mcol, consume.PipelineOptions{
		Subject:          cfg.BreadcrumbSubject,
		Durable:          cfg.DurableName,
		BatchSize:        cfg.BatchSize,
		IdleTimeout:      cfg.IdleTimeout,
		WatchdogInterval: cfg.WatchdogInterval,
		Location:         cfg.Location,
	})

	log.Printf("consuming %s (batch=%d idle=%s)", cfg.BreadcrumbSubject, cfg.BatchSize, cfg.IdleTimeout)
	if err := pipeline.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("pipeline error: %v", err)
	}
	log.Println("shutdown complete")
}

// encoderMetrics adapts the Collector to the archive.EncoderMetrics
// interface, keeping the nil case explicit.
func encoderMetrics(c *metrics.Collector) archive.EncoderMetrics {
	if c == nil {
		return nil
	}
	return c
}

func connMetrics(c *metrics.Collector) consume.ConnMetrics {
	if c == nil {
		return nil
	}
	return &natsMetrics{c: c}
}

type natsMetrics struct{ c *metrics.Collector }

func (n *natsMetrics) NATSSetConnected(b bool) {
	if b {
		n.c.NATSConnected.Set(1)
	} else {
		n.c.NATSConnected.Set(0)
	}
}
