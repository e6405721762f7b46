package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string
	IngestRPS             float64
	IngestBurst           int

	DatabaseURL string
	DBMaxConns  int
	RedisURL    string

	DedupTTL       time.Duration
	DedupCacheSize int

	ScoringProfile        string
	CorrelationWindow     time.Duration
	CorrelationCandidates int

	SlackWebhookURL string
	KafkaBrokers    string
	KafkaTopic      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens accepted by the API (at least one)")
	fs.Float64Var(&c.IngestRPS, "ingest-rps", 50, "max event ingest requests per second (0 = unlimited)")
	fs.IntVar(&c.IngestBurst, "ingest-burst", 100, "ingest rate limit burst size")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "max PostgreSQL pool connections (0 = pgxpool default)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the fingerprint cache (empty = in-process cache)")
	fs.DurationVar(&c.DedupTTL, "dedup-ttl", 24*time.Hour, "how long a fingerprint stays in the dedup cache")
	fs.IntVar(&c.DedupCacheSize, "dedup-cache-size", 10000, "max fingerprints held by the in-process dedup cache")
	fs.StringVar(&c.ScoringProfile, "scoring-profile", "", "YAML file overriding scoring weights and defaults")
	fs.DurationVar(&c.CorrelationWindow, "correlation-window", 15*time.Minute, "how far back correlation looks for related events")
	fs.IntVar(&c.CorrelationCandidates, "correlation-candidates", 50, "max recent events considered per correlation (1..1000)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for new incident notifications")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for incident notices (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "signalos.incidents", "Kafka topic for incident notices")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if len(c.Tokens()) == 0 {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}

	if c.IngestRPS < 0 {
		errs = append(errs, fmt.Errorf("invalid INGEST_RPS %v (must be >= 0)", c.IngestRPS))
	}
	if c.IngestRPS > 0 && c.IngestBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid INGEST_BURST %d (must be >= 1 when INGEST_RPS is set)", c.IngestBurst))
	}

	if c.DBMaxConns < 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 0..1000)", c.DBMaxConns))
	}

	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid REDIS_URL: %w", err))
		}
	}

	if c.DedupTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_TTL %s (must be > 0)", c.DedupTTL))
	}
	if c.DedupCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_CACHE_SIZE %d (must be > 0)", c.DedupCacheSize))
	}

	if c.CorrelationWindow <= 0 || c.CorrelationWindow > 24*time.Hour {
		errs = append(errs, fmt.Errorf("invalid CORRELATION_WINDOW %s (must be > 0 and <= 24h)", c.CorrelationWindow))
	}
	if c.CorrelationCandidates <= 0 || c.CorrelationCandidates > 1000 {
		errs = append(errs, fmt.Errorf("invalid CORRELATION_CANDIDATES %d (must be 1..1000)", c.CorrelationCandidates))
	}

	// Kafka topic is only needed when brokers are configured
	if len(c.Brokers()) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Tokens returns the configured API tokens with blanks removed.
func (c *Config) Tokens() []string {
	return splitList(c.APITokens)
}

// Brokers returns the configured Kafka brokers with blanks removed.
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
