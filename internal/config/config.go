package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	DatabaseName string // optional override applied to DatabaseURL

	NATSURL           string
	NATSStreamName    string
	BreadcrumbSubject string
	TripSubject       string
	DurableName       string

	BatchSize        int
	IdleTimeout      time.Duration
	WatchdogInterval time.Duration

	BackoffBase        time.Duration
	BackoffCap         time.Duration
	BackoffMaxAttempts int

	DBMaxOpenConns int
	DBMaxIdleConns int

	ArchiveDir        string
	ArchivePublicKey  string
	ArchivePrivateKey string

	MetricsAddr string
	Location    *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}
	cfg.DatabaseName = os.Getenv("DATABASE_NAME")

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSStreamName = getenvDefault("NATS_STREAM_NAME", "BREADCRUMBS")
	cfg.BreadcrumbSubject = getenvDefault("BREADCRUMB_SUBJECT", "breadcrumbs.position")
	cfg.TripSubject = getenvDefault("TRIP_SUBJECT", "breadcrumbs.stopdata")
	cfg.DurableName = getenvDefault("NATS_DURABLE", "breadcrumb-consumer")

	var err error
	if cfg.BatchSize, err = intEnv("BATCH_SIZE", 100, 1); err != nil {
		return nil, err
	}
	idleSec, err := intEnv("IDLE_TIMEOUT_SEC", 180, 1)
	if err != nil {
		return nil, err
	}
	cfg.IdleTimeout = time.Duration(idleSec) * time.Second

	watchSec, err := intEnv("WATCHDOG_INTERVAL_SEC", 60, 1)
	if err != nil {
		return nil, err
	}
	cfg.WatchdogInterval = time.Duration(watchSec) * time.Second

	baseMS, err := intEnv("BACKOFF_BASE_MS", 1000, 1)
	if err != nil {
		return nil, err
	}
	cfg.BackoffBase = time.Duration(baseMS) * time.Millisecond

	capSec, err := intEnv("BACKOFF_CAP_SEC", 30, 1)
	if err != nil {
		return nil, err
	}
	cfg.BackoffCap = time.Duration(capSec) * time.Second

	if cfg.BackoffMaxAttempts, err = intEnv("BACKOFF_MAX_ATTEMPTS", 5, 1); err != nil {
		return nil, err
	}

	if cfg.DBMaxOpenConns, err = intEnv("DB_MAX_OPEN_CONNS", 10, 1); err != nil {
		return nil, err
	}
	if cfg.DBMaxIdleConns, err = intEnv("DB_MAX_IDLE_CONNS", 5, 1); err != nil {
		return nil, err
	}

	cfg.ArchiveDir = getenvDefault("ARCHIVE_DIR", "archive")
	cfg.ArchivePublicKey = getenvDefault("ARCHIVE_PUBLIC_KEY", "public_key.pem")
	cfg.ArchivePrivateKey = getenvDefault("ARCHIVE_PRIVATE_KEY", "private_key.pem")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone for decoding OPD_DATE and naming daily archive objects
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func intEnv(key string, def, min int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
