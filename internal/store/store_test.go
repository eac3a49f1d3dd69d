package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"account-ledger/internal/journal"
	"account-ledger/internal/ledger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func mustEnv(t *testing.T, key string) string {
	t.Helper()
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		t.Skipf("missing %s env var", key)
	}
	return v
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := mustEnv(t, "LEDGER_DB_DSN")

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	// Concurrency tests. Keep it bounded.
	cfg.MaxConns = 20
	cfg.MinConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// seededJournal runs a few registry operations and returns the journal.
func seededJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j := journal.New()
	r := ledger.New(ledger.WithObserver(j))

	a, err := r.Open(500)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := r.Open(100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Transfer(a, b, 300); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := r.Deposit(b, 25); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	return j
}

func TestMigrationFilesSorted(t *testing.T) {
	files, err := migrationFiles(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 || files[0] != "migrations/000_genesis.sql" {
		t.Fatalf("unexpected migrations: %v", files)
	}
}

func TestFlushReplicatesJournal(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	j := seededJournal(t)

	n, err := s.Flush(ctx, j)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != j.Len() {
		t.Fatalf("expected %d rows, got %d", j.Len(), n)
	}

	// Replay is harmless.
	n, err = s.Flush(ctx, j)
	if err != nil {
		t.Fatalf("Flush replay: %v", err)
	}
	if n != 0 {
		t.Fatalf("replay wrote %d rows", n)
	}
	n, err = s.SaveEntries(ctx, j.RunID(), j.Since(0))
	if err != nil || n != 0 {
		t.Fatalf("SaveEntries replay: n=%d err=%v", n, err)
	}

	last, err := s.LastSeq(ctx, j.RunID())
	if err != nil {
		t.Fatalf("LastSeq: %v", err)
	}
	headSeq, headHash := j.Head()
	if last != headSeq {
		t.Fatalf("LastSeq %d, journal head %d", last, headSeq)
	}

	stored, err := s.LoadEntries(ctx, j.RunID(), 0, 100)
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if err := journal.VerifyChain(stored); err != nil {
		t.Fatalf("stored chain: %v", err)
	}
	if stored[len(stored)-1].Hash != headHash {
		t.Fatalf("stored head differs from journal head")
	}
	for i, e := range j.Since(0) {
		if stored[i].EventID != e.EventID || stored[i].PayloadCanonical != e.PayloadCanonical {
			t.Fatalf("entry %d differs after round trip", i)
		}
	}
}

func TestSaveEntriesRejectsGapAndForeignChain(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	j := seededJournal(t)
	all := j.Since(0)

	if _, err := s.SaveEntries(ctx, j.RunID(), all[2:]); !errors.Is(err, ErrGap) {
		t.Fatalf("expected ErrGap, got %v", err)
	}
	if _, err := s.SaveEntries(ctx, j.RunID(), all[:2]); err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}

	// A different run's entry 3 does not continue this run's chain.
	other := seededJournal(t).Since(2)
	if _, err := s.SaveEntries(ctx, j.RunID(), other); !errors.Is(err, ErrChainMismatch) {
		t.Fatalf("expected ErrChainMismatch, got %v", err)
	}
}

func TestDrainStoresEntriesCommittedAfterReplicateStops(t *testing.T) {
	pool := newTestPool(t)
	s := New(pool)

	j := journal.New()
	r := ledger.New(ledger.WithObserver(j))
	a, err := r.Open(500)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var flushed int
	err = s.Replicate(ctx, j, time.Hour, func(n int, err error) {
		flushed += n
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if flushed != 0 {
		t.Fatalf("replicate flushed %d entries after cancel", flushed)
	}

	// Requests still draining keep committing after the replica loop is gone.
	if err := r.Deposit(a, 40); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := r.Withdraw(a, 15); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	n, err := s.Drain(ctx, j, 5*time.Second)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != j.Len() {
		t.Fatalf("drain wrote %d of %d", n, j.Len())
	}

	last, err := s.LastSeq(context.Background(), j.RunID())
	if err != nil {
		t.Fatalf("LastSeq: %v", err)
	}
	if seq, _ := j.Head(); last != seq {
		t.Fatalf("stored head %d want %d", last, seq)
	}
}
