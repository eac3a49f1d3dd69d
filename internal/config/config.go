// Package config reads server settings from the environment, after loading
// an optional .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr        string
	HTTPMaxInflight int

	// DBDSN enables the Postgres journal replica when non-empty.
	DBDSN           string
	DBMigrate       bool
	DBMaxConns      int
	ReplicaInterval time.Duration

	APR decimal.Decimal
}

// Load reads .env files (missing files are fine; existing env vars win) and
// then the LEDGER_* variables.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	apr, err := decimal.NewFromString(mustEnv("LEDGER_APR", "0.035"))
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPAddr:        mustEnv("LEDGER_HTTP_ADDR", ":8080"),
		HTTPMaxInflight: mustIntEnv("LEDGER_HTTP_MAX_INFLIGHT", 64),
		DBDSN:           mustEnv("LEDGER_DB_DSN", ""),
		DBMigrate:       mustEnv("LEDGER_DB_MIGRATE", "0") == "1",
		DBMaxConns:      mustIntEnv("LEDGER_DB_MAX_CONNS", clamp(runtime.GOMAXPROCS(0)*4, 4, 50)),
		ReplicaInterval: time.Duration(mustIntEnv("LEDGER_REPLICA_INTERVAL_MS", 1000)) * time.Millisecond,
		APR:             apr,
	}, nil
}

func mustEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func mustIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
