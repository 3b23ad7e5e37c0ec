package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	CRDBDSN         string
	MongoURI        string
	MongoDB         string
	RedisAddr       string
	RabbitURL       string
	OTLPEndpoint    string
	HoldTTL         time.Duration
	SweepInterval   time.Duration
	MaxPassengers   int
	SeatsPerRow     int
	CatalogCacheTTL time.Duration
	IdempotencyTTL  time.Duration
	OutboxInterval  time.Duration
}

// Load reads an optional .env file and then the environment. Unset variables
// take their defaults; malformed ones are an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     getString("HTTP_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getString("MONGO_DB", "bus"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var errs error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"HOLD_TTL", 10 * time.Minute, &cfg.HoldTTL},
		{"SWEEP_INTERVAL", 30 * time.Second, &cfg.SweepInterval},
		{"CATALOG_CACHE_TTL", 5 * time.Minute, &cfg.CatalogCacheTTL},
		{"IDEMPOTENCY_TTL", time.Hour, &cfg.IdempotencyTTL},
		{"OUTBOX_INTERVAL", 5 * time.Second, &cfg.OutboxInterval},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		errs = errors.CombineErrors(errs, err)
		*d.dest = v
	}

	ints := []struct {
		key  string
		def  int
		max  int
		dest *int
	}{
		{"MAX_PASSENGERS", 10, 100, &cfg.MaxPassengers},
		{"SEATS_PER_ROW", 4, 26, &cfg.SeatsPerRow},
	}
	for _, n := range ints {
		v, err := getInt(n.key, n.def, n.max)
		errs = errors.CombineErrors(errs, err)
		*n.dest = v
	}

	if errs != nil {
		return nil, errors.Wrap(errs, "load config")
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func getInt(key string, def, max int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	if n < 1 || n > max {
		return 0, errors.Newf("%s must be in 1..%d, got %d", key, max, n)
	}
	return n, nil
}
