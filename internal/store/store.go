package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"account-ledger/internal/journal"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrChainMismatch = errors.New("journal chain does not continue the stored chain")
	ErrGap           = errors.New("journal entries skip stored sequence")
	ErrValidation    = errors.New("validation error")
)

// Store replicates journal entries into Postgres. The in-memory registry stays
// authoritative; the table is an append-only copy for audit and proof export.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{db: db} }

// Source is the side of the journal the replicator reads from.
type Source interface {
	RunID() uuid.UUID
	Since(seq int64) []journal.Entry
}

// LastSeq returns the highest stored seq for runID, or 0.
func (s *Store) LastSeq(ctx context.Context, runID uuid.UUID) (int64, error) {
	if runID == uuid.Nil {
		return 0, ErrValidation
	}
	var seq int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq),0) FROM journal_entry WHERE run_id=$1`,
		runID,
	).Scan(&seq)
	return seq, err
}

// SaveEntries appends entries for runID. Entries already stored are skipped,
// so replaying a batch is harmless. The batch must continue the stored chain.
func (s *Store) SaveEntries(ctx context.Context, runID uuid.UUID, entries []journal.Entry) (int, error) {
	if runID == uuid.Nil {
		return 0, ErrValidation
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := journal.VerifyChain(entries); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Serialize writers of the same run so the continuity check below holds.
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, runID.String())
	if err != nil {
		return 0, err
	}

	var lastSeq int64
	var lastHash []byte
	err = tx.QueryRow(ctx,
		`SELECT seq, hash FROM journal_entry WHERE run_id=$1 ORDER BY seq DESC LIMIT 1`,
		runID,
	).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	pending := entries
	for len(pending) > 0 && pending[0].Seq <= lastSeq {
		pending = pending[1:]
	}
	if len(pending) == 0 {
		return 0, tx.Commit(ctx)
	}

	first := pending[0]
	if first.Seq != lastSeq+1 {
		return 0, fmt.Errorf("%w: stored up to %d, batch starts at %d", ErrGap, lastSeq, first.Seq)
	}
	if lastSeq > 0 && string(first.PrevHash[:]) != string(lastHash) {
		return 0, fmt.Errorf("%w at seq=%d", ErrChainMismatch, first.Seq)
	}

	batch := &pgx.Batch{}
	for _, e := range pending {
		batch.Queue(
			`INSERT INTO journal_entry(
				run_id, seq, event_id, event_type, aggregate_id,
				payload_json, payload_canonical, prev_hash, hash, recorded_at
			) VALUES($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9,$10)`,
			runID, e.Seq, e.EventID, e.Type, e.AggregateID,
			e.PayloadCanonical, e.PayloadCanonical, e.PrevHash[:], e.Hash[:], e.RecordedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// LoadEntries reads up to limit entries of runID with seq > afterSeq.
func (s *Store) LoadEntries(ctx context.Context, runID uuid.UUID, afterSeq int64, limit int) ([]journal.Entry, error) {
	if runID == uuid.Nil || limit <= 0 {
		return nil, ErrValidation
	}

	rows, err := s.db.Query(ctx,
		`SELECT seq, event_id, event_type, aggregate_id, payload_canonical, prev_hash, hash, recorded_at
		   FROM journal_entry
		  WHERE run_id=$1 AND seq>$2
		  ORDER BY seq
		  LIMIT $3`,
		runID, afterSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var e journal.Entry
		var prev, hash []byte
		if err := rows.Scan(&e.Seq, &e.EventID, &e.Type, &e.AggregateID, &e.PayloadCanonical, &prev, &hash, &e.RecordedAt); err != nil {
			return nil, err
		}
		if len(prev) != 32 || len(hash) != 32 {
			return nil, fmt.Errorf("%w: bad hash length at seq=%d", ErrValidation, e.Seq)
		}
		copy(e.PrevHash[:], prev)
		copy(e.Hash[:], hash)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Flush copies every entry of src not yet stored.
func (s *Store) Flush(ctx context.Context, src Source) (int, error) {
	last, err := s.LastSeq(ctx, src.RunID())
	if err != nil {
		return 0, err
	}
	return s.SaveEntries(ctx, src.RunID(), src.Since(last))
}

// Replicate flushes src every interval until ctx is done. It does not flush
// on the way out: writers may still be committing, so callers run Drain once
// they have stopped. report, when set, sees every flush result.
func (s *Store) Replicate(ctx context.Context, src Source, every time.Duration, report func(n int, err error)) error {
	if every <= 0 {
		every = time.Second
	}
	if report == nil {
		report = func(int, error) {}
	}

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := s.Flush(ctx, src)
			report(n, err)
		}
	}
}

// Drain makes the last flush of src on a context detached from ctx's
// cancellation and bounded by timeout.
func (s *Store) Drain(ctx context.Context, src Source, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return s.Flush(ctx, src)
}
