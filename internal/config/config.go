package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Location    *time.Location

	Organizations []string

	WindowDays          int
	MaterializeInterval time.Duration
	BatchSize           int

	MonitorInterval time.Duration
	PastDue         time.Duration
	AutoMissed      time.Duration
	ArchiveAfter    time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	MetricsAddr string
	HTTPAddr    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LookupCacheTTL time.Duration

	LogLevel slog.Level
}

// Load reads .env (if present) and the environment. requireDB is false
// when the caller runs against the in-memory store.
func Load(requireDB bool) (*Config, error) {
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
		if db == "" && requireDB {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if db != "" {
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.Organizations = splitList(os.Getenv("ORGANIZATIONS"))

	var err error
	if cfg.WindowDays, err = positiveInt("MATERIALIZE_WINDOW_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = positiveInt("MATERIALIZE_BATCH_SIZE", 400); err != nil {
		return nil, err
	}
	sec, err := positiveInt("MATERIALIZE_INTERVAL_SEC", 3600)
	if err != nil {
		return nil, err
	}
	cfg.MaterializeInterval = time.Duration(sec) * time.Second

	if sec, err = positiveInt("MONITOR_INTERVAL_SEC", 60); err != nil {
		return nil, err
	}
	cfg.MonitorInterval = time.Duration(sec) * time.Second

	// Grace periods accept fractions, e.g. PAST_DUE_HOURS=1.5
	if cfg.PastDue, err = positiveHours("PAST_DUE_HOURS", 2); err != nil {
		return nil, err
	}
	if cfg.AutoMissed, err = positiveHours("AUTO_MISSED_HOURS", 4); err != nil {
		return nil, err
	}
	days, err := positiveInt("ARCHIVE_AFTER_DAYS", 5)
	if err != nil {
		return nil, err
	}
	cfg.ArchiveAfter = time.Duration(days) * 24 * time.Hour

	// Empty disables event publishing
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "schedule")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	// Staff API listen address (e.g., ":8080"). Empty disables the API.
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")

	// Empty disables the route/bus lookup cache
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}
	if v := os.Getenv("LOOKUP_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid LOOKUP_CACHE_TTL: %q", v)
		}
		cfg.LookupCacheTTL = d
	} else {
		cfg.LookupCacheTTL = 10 * time.Minute
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %q", v)
		}
	}

	// Time zone
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

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func positiveHours(key string, def float64) (time.Duration, error) {
	h := def
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		h = f
	}
	return time.Duration(h * float64(time.Hour)), nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
