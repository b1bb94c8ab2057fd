package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration, read from the environment so
// main stays lean.
type Config struct {
	Server    Server
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Notify    NotifyConfig
	Proof     ProofConfig
	Ledger    LedgerConfig
	LogLevel  string
	// SeedFile is a YAML fixture loaded into in-memory stores (dev only).
	SeedFile string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	AccountTokenKey string
	AccountIssuer   string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// StorageTimeout bounds every storage call on the emergency path. On
	// expiry the resolver fails closed.
	StorageTimeout time.Duration
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	NotificationTopic string
	Partitions        int32
	ReplicationFactor int16
}

type RateLimitConfig struct {
	TagLimit  int
	TagWindow time.Duration
}

type NotifyConfig struct {
	DedupBucket       time.Duration
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	Workers           int
	BatchSize         int
	PollInterval      time.Duration
	IntakeBuffer      int
	Lease             time.Duration
	ReconcileLookback time.Duration
	ReconcileGrace    time.Duration
	TemplateID        string
}

type ProofConfig struct {
	SigningKey string
	TTL        time.Duration
	Issuer     string
	Audience   string
}

type LedgerConfig struct {
	// Retention is the compliance minimum. Nothing in the service deletes
	// entries; the value is reported by tagctl for offline archiving.
	Retention time.Duration
	PageSize  int
}

const (
	day  = 24 * time.Hour
	year = 365 * day
)

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("LIFETAG_ADDR", ":8080"),
			AdminToken:      os.Getenv("ADMIN_TOKEN"),
			AccountTokenKey: envString("ACCOUNT_TOKEN_KEY", "dev-account-key-change-in-production"),
			AccountIssuer:   envString("ACCOUNT_TOKEN_ISSUER", "lifetag-accounts"),
			RequestTimeout:  envDuration("REQUEST_TIMEOUT", 10*time.Second),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			StorageTimeout:  envDuration("STORAGE_TIMEOUT", 2*time.Second),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:           envList("KAFKA_BROKERS"),
			ClientID:          envString("KAFKA_CLIENT_ID", "lifetag"),
			NotificationTopic: envString("KAFKA_NOTIFICATION_TOPIC", "lifetag.notifications.outbound"),
			Partitions:        int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(envInt("KAFKA_TOPIC_REPLICATION", 1)),
		},
		RateLimit: RateLimitConfig{
			TagLimit:  envInt("RATELIMIT_TAG_PER_WINDOW", 30),
			TagWindow: envDuration("RATELIMIT_TAG_WINDOW", time.Minute),
		},
		Notify: NotifyConfig{
			DedupBucket:       envDuration("NOTIFY_DEDUP_BUCKET", 5*time.Minute),
			MaxAttempts:       envInt("NOTIFY_MAX_ATTEMPTS", 6),
			BaseBackoff:       envDuration("NOTIFY_BASE_BACKOFF", 30*time.Second),
			MaxBackoff:        envDuration("NOTIFY_MAX_BACKOFF", 30*time.Minute),
			Workers:           envInt("NOTIFY_WORKERS", 4),
			BatchSize:         envInt("NOTIFY_BATCH_SIZE", 50),
			PollInterval:      envDuration("NOTIFY_POLL_INTERVAL", 2*time.Second),
			IntakeBuffer:      envInt("NOTIFY_INTAKE_BUFFER", 1024),
			Lease:             envDuration("NOTIFY_LEASE", time.Minute),
			ReconcileLookback: envDuration("NOTIFY_RECONCILE_LOOKBACK", time.Hour),
			ReconcileGrace:    envDuration("NOTIFY_RECONCILE_GRACE", 30*time.Second),
			TemplateID:        envString("NOTIFY_TEMPLATE_ID", "profile-accessed-v1"),
		},
		Proof: ProofConfig{
			SigningKey: envString("PROOF_SIGNING_KEY", "dev-proof-key-change-in-production"),
			TTL:        envDuration("PROOF_TTL", 15*time.Minute),
			Issuer:     envString("PROOF_ISSUER", "lifetag"),
			Audience:   envString("PROOF_AUDIENCE", "lifetag-emergency"),
		},
		Ledger: LedgerConfig{
			Retention: envDuration("LEDGER_RETENTION", 7*year),
			PageSize:  envInt("LEDGER_PAGE_SIZE", 100),
		},
		LogLevel: envString("LOG_LEVEL", "info"),
		SeedFile: os.Getenv("SEED_FILE"),
	}
}

// Validate rejects configurations that would weaken the guarantees of the
// emergency path.
func (c Config) Validate() error {
	var errs []error
	if c.RateLimit.TagLimit <= 0 || c.RateLimit.TagWindow <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if c.Notify.DedupBucket <= 0 {
		errs = append(errs, errors.New("notification dedup bucket must be positive"))
	}
	if c.Notify.MaxAttempts <= 0 || c.Notify.Workers <= 0 {
		errs = append(errs, errors.New("notification attempts and workers must be positive"))
	}
	if c.Proof.TTL <= 0 || c.Proof.SigningKey == "" {
		errs = append(errs, errors.New("proof token key and TTL are required"))
	}
	if c.Ledger.Retention < 365*day {
		errs = append(errs, errors.New("ledger retention must be at least one year"))
	}
	if c.Server.StorageTimeout <= 0 {
		errs = append(errs, errors.New("storage timeout must be positive"))
	}
	return errors.Join(errs...)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
