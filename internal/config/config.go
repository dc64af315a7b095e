package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values load from a YAML file and
// may be overridden per-field through WATT_* environment variables, so
// container deployments need no config file edits.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	PostgresURL string `yaml:"postgres_url"`
	NATSURL     string `yaml:"nats_url"`

	// Owner is the principal allowed to change ledger parameters.
	Owner string `yaml:"owner"`

	MigrationsDir string `yaml:"migrations_dir"`

	// Channel capacities between the core and its workers.
	TxChanCapacity         int `yaml:"tx_chan_capacity"`
	PersistChanCapacity    int `yaml:"persist_chan_capacity"`
	ProjectionChanCapacity int `yaml:"projection_chan_capacity"`
	ReceiptChanCapacity    int `yaml:"receipt_chan_capacity"`

	// Persistence batching.
	PersistBatchSize    int           `yaml:"persist_batch_size"`
	PersistFlushTimeout time.Duration `yaml:"persist_flush_timeout"`

	// Dedup LRU capacity in the core.
	IdempotencyLRUSize int `yaml:"idempotency_lru_size"`

	// SnapshotInterval is how many committed transactions pass between
	// automatic snapshots. A snapshot is also taken on graceful shutdown.
	SnapshotInterval int64 `yaml:"snapshot_interval"`

	// ReplayBatchSize bounds how many log rows a single replay query loads.
	ReplayBatchSize int `yaml:"replay_batch_size"`
}

// Default returns the configuration a fresh deployment boots with.
func Default() *Config {
	return &Config{
		HTTPAddr:               ":8080",
		PostgresURL:            "postgres://localhost:5432/wattconnect?sslmode=disable",
		NATSURL:                "nats://localhost:4222",
		MigrationsDir:          "migrations",
		TxChanCapacity:         4096,
		PersistChanCapacity:    8192,
		ProjectionChanCapacity: 8192,
		ReceiptChanCapacity:    4096,
		PersistBatchSize:       256,
		PersistFlushTimeout:    50 * time.Millisecond,
		IdempotencyLRUSize:     100_000,
		SnapshotInterval:       100_000,
		ReplayBatchSize:        10_000,
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.HTTPAddr, "WATT_HTTP_ADDR")
	overrideString(&c.PostgresURL, "WATT_POSTGRES_URL")
	overrideString(&c.NATSURL, "WATT_NATS_URL")
	overrideString(&c.Owner, "WATT_OWNER")
	overrideString(&c.MigrationsDir, "WATT_MIGRATIONS_DIR")
	overrideInt(&c.TxChanCapacity, "WATT_TX_CHAN_CAPACITY")
	overrideInt(&c.PersistBatchSize, "WATT_PERSIST_BATCH_SIZE")
	overrideInt(&c.IdempotencyLRUSize, "WATT_IDEMPOTENCY_LRU_SIZE")
	overrideInt64(&c.SnapshotInterval, "WATT_SNAPSHOT_INTERVAL")
	overrideDuration(&c.PersistFlushTimeout, "WATT_PERSIST_FLUSH_TIMEOUT")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner principal is required (set owner in config or WATT_OWNER)")
	}
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres_url is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats_url is required")
	}
	if c.PersistBatchSize <= 0 {
		return fmt.Errorf("persist_batch_size must be positive, got %d", c.PersistBatchSize)
	}
	if c.PersistFlushTimeout <= 0 {
		return fmt.Errorf("persist_flush_timeout must be positive, got %v", c.PersistFlushTimeout)
	}
	if c.IdempotencyLRUSize <= 0 {
		return fmt.Errorf("idempotency_lru_size must be positive, got %d", c.IdempotencyLRUSize)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot_interval must be positive, got %d", c.SnapshotInterval)
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func overrideDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
