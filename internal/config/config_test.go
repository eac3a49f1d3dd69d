package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LEDGER_HTTP_ADDR", "LEDGER_HTTP_MAX_INFLIGHT", "LEDGER_DB_DSN", "LEDGER_DB_MIGRATE", "LEDGER_APR", "LEDGER_REPLICA_INTERVAL_MS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.HTTPMaxInflight != 64 || cfg.DBDSN != "" || cfg.DBMigrate {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReplicaInterval != time.Second {
		t.Fatalf("replica interval: %s", cfg.ReplicaInterval)
	}
	if cfg.APR.String() != "0.035" {
		t.Fatalf("apr: %s", cfg.APR)
	}
	if cfg.DBMaxConns < 4 || cfg.DBMaxConns > 50 {
		t.Fatalf("max conns out of range: %d", cfg.DBMaxConns)
	}
}

func TestLoadEnvFileDoesNotOverrideEnv(t *testing.T) {
	t.Setenv("LEDGER_HTTP_ADDR", ":9999")
	// Register restores, then unset so the .env file can supply them.
	t.Setenv("LEDGER_APR", "")
	t.Setenv("LEDGER_HTTP_MAX_INFLIGHT", "")
	os.Unsetenv("LEDGER_APR")
	os.Unsetenv("LEDGER_HTTP_MAX_INFLIGHT")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "LEDGER_HTTP_ADDR=:7000\nLEDGER_APR=0.05\nLEDGER_HTTP_MAX_INFLIGHT=-3\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("env var should win over .env, got %s", cfg.HTTPAddr)
	}
	if cfg.APR.String() != "0.05" {
		t.Fatalf("apr from .env: %s", cfg.APR)
	}
	if cfg.HTTPMaxInflight != 64 {
		t.Fatalf("invalid value should fall back to default, got %d", cfg.HTTPMaxInflight)
	}
}

func TestLoadRejectsBadAPR(t *testing.T) {
	t.Setenv("LEDGER_APR", "three percent")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for malformed APR")
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ n, want int }{{1, 4}, {10, 10}, {99, 50}}
	for _, tc := range cases {
		if got := clamp(tc.n, 4, 50); got != tc.want {
			t.Fatalf("clamp(%d) = %d want %d", tc.n, got, tc.want)
		}
	}
}
