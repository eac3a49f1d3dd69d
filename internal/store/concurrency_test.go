package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"account-ledger/internal/journal"
	"account-ledger/internal/ledger"
)

func TestConcurrentFlushes_StoreEachEntryOnce(t *testing.T) {
	// Not parallel. Shares DB.
	pool := newTestPool(t)
	s := New(pool)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j := journal.New()
	r := ledger.New(ledger.WithObserver(j))
	a, err := r.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Writers keep appending while flushers race each other.
	const writers, flushers, deposits = 4, 8, 50
	var wg sync.WaitGroup
	wg.Add(writers + flushers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for k := 0; k < deposits; k++ {
				if err := r.Deposit(a, 1); err != nil {
					t.Errorf("Deposit: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < flushers; i++ {
		go func() {
			defer wg.Done()
			for k := 0; k < 5; k++ {
				if _, err := s.Flush(ctx, j); err != nil {
					t.Errorf("Flush: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if _, err := s.Flush(ctx, j); err != nil {
		t.Fatalf("final Flush: %v", err)
	}

	var cnt int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entry WHERE run_id=$1`, j.RunID()).Scan(&cnt)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if cnt != j.Len() || cnt != 1+writers*deposits {
		t.Fatalf("expected %d rows, got %d (journal %d)", 1+writers*deposits, cnt, j.Len())
	}

	stored, err := s.LoadEntries(ctx, j.RunID(), 0, cnt)
	if err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	if err := journal.VerifyChain(stored); err != nil {
		t.Fatalf("stored chain: %v", err)
	}
}
