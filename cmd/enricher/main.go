package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"breadcrumb-pipeline/internal/config"
	"breadcrumb-pipeline/internal/consume"
	"breadcrumb-pipeline/internal/enrich"
	"breadcrumb-pipeline/internal/metrics"
	"breadcrumb-pipeline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	conn, err := consume.Connect(cfg.NATSURL, "trip-enricher", cfg.NATSStreamName,
		[]string{cfg.BreadcrumbSubject, cfg.TripSubject}, connMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer conn.Close()

	enricher := enrich.NewEnricher(conn.JetStream(), cfg.TripSubject, cfg.DurableName+"-trips", st, mcol)
	log.Printf("consuming %s", cfg.TripSubject)
	if err := enricher.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("enricher error: %v", err)
	}
	log.Println("shutdown complete")
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
