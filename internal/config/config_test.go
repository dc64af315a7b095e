package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wattconnect/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
http_addr: ":9090"
postgres_url: "postgres://db:5432/watt?sslmode=disable"
nats_url: "nats://broker:4222"
owner: "SP1G9QR4S4MW1A1HB4FPYERCVHS88BDGV3J39M2Z4"
persist_batch_size: 64
persist_flush_timeout: 100ms
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("http_addr: got %s", cfg.HTTPAddr)
	}
	if cfg.Owner != "SP1G9QR4S4MW1A1HB4FPYERCVHS88BDGV3J39M2Z4" {
		t.Errorf("owner: got %s", cfg.Owner)
	}
	if cfg.PersistBatchSize != 64 {
		t.Errorf("persist_batch_size: got %d, want 64", cfg.PersistBatchSize)
	}
	if cfg.PersistFlushTimeout != 100*time.Millisecond {
		t.Errorf("persist_flush_timeout: got %v", cfg.PersistFlushTimeout)
	}
	// Unset fields keep their defaults
	if cfg.SnapshotInterval != config.Default().SnapshotInterval {
		t.Errorf("snapshot_interval: got %d, want default", cfg.SnapshotInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
owner: "SP1G9QR4S4MW1A1HB4FPYERCVHS88BDGV3J39M2Z4"
nats_url: "nats://broker:4222"
`)

	t.Setenv("WATT_NATS_URL", "nats://other:4222")
	t.Setenv("WATT_PERSIST_BATCH_SIZE", "32")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NATSURL != "nats://other:4222" {
		t.Errorf("nats_url: got %s, want env override", cfg.NATSURL)
	}
	if cfg.PersistBatchSize != 32 {
		t.Errorf("persist_batch_size: got %d, want 32", cfg.PersistBatchSize)
	}
}

func TestMissingOwner_Fails(t *testing.T) {
	path := writeConfigFile(t, `
nats_url: "nats://broker:4222"
`)

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for missing owner")
	}
}

func TestInvalidBatchSize_Fails(t *testing.T) {
	path := writeConfigFile(t, `
owner: "SP1G9QR4S4MW1A1HB4FPYERCVHS88BDGV3J39M2Z4"
persist_batch_size: 0
`)

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}

func TestLoadWithoutFile_UsesDefaults(t *testing.T) {
	t.Setenv("WATT_OWNER", "SP1G9QR4S4MW1A1HB4FPYERCVHS88BDGV3J39M2Z4")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http_addr: got %s, want default :8080", cfg.HTTPAddr)
	}
}
