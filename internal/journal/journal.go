// Package journal keeps an append-only, hash-chained record of committed
// ledger events. Payloads are stored in RFC 8785 (JCS) canonical form so the
// chain can be re-verified byte for byte after export.
package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"account-ledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

var (
	ErrChainBroken = errors.New("journal chain broken")
	ErrValidation  = errors.New("validation error")
)

const (
	TypeAccountOpened  = "ACCOUNT_OPENED"
	TypeDeposited      = "DEPOSITED"
	TypeWithdrawn      = "WITHDRAWN"
	TypeTransferPosted = "TRANSFER_POSTED"
)

// Entry is one link of the chain. PrevHash of the first entry is all zeros.
type Entry struct {
	Seq              int64
	EventID          uuid.UUID
	Type             string
	AggregateID      string
	PayloadCanonical string
	PrevHash         [32]byte
	Hash             [32]byte
	RecordedAt       time.Time
}

func (e Entry) PrevHashHex() string { return hex.EncodeToString(e.PrevHash[:]) }

func (e Entry) HashHex() string { return hex.EncodeToString(e.Hash[:]) }

// ChainHash computes sha256(prev || seq || type || payload) with seq as a
// big-endian uint64 and type/payload separated by a NUL byte.
func ChainHash(prev [32]byte, seq int64, eventType, payloadCanonical string) [32]byte {
	var buf bytes.Buffer
	buf.Write(prev[:])
	_ = binary.Write(&buf, binary.BigEndian, uint64(seq))
	buf.WriteString(eventType)
	buf.WriteByte(0)
	buf.WriteString(payloadCanonical)
	return sha256.Sum256(buf.Bytes())
}

type accountOpenedPayload struct {
	AccountID      string `json:"account_id"`
	BalanceCents   int64  `json:"balance_cents"`
	AccountVersion uint64 `json:"account_version"`
	At             string `json:"at"`
}

type balanceChangedPayload struct {
	AccountID      string `json:"account_id"`
	AmountCents    int64  `json:"amount_cents"`
	BalanceCents   int64  `json:"balance_cents"`
	AccountVersion uint64 `json:"account_version"`
	At             string `json:"at"`
}

type transferPostedPayload struct {
	TxID             string `json:"tx_id"`
	From             string `json:"from"`
	To               string `json:"to"`
	AmountCents      int64  `json:"amount_cents"`
	FromBalanceCents int64  `json:"from_balance_cents"`
	ToBalanceCents   int64  `json:"to_balance_cents"`
	FromVersion      uint64 `json:"from_version"`
	ToVersion        uint64 `json:"to_version"`
	At               string `json:"at"`
}

func canonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return string(canon), nil
}

func eventRecord(ev ledger.Event) (eventType, aggregateID string, payload any, err error) {
	at := ev.At.UTC().Format(time.RFC3339Nano)
	switch ev.Op {
	case ledger.OpOpen:
		return TypeAccountOpened, ev.Account.String(), accountOpenedPayload{
			AccountID:      ev.Account.String(),
			BalanceCents:   ev.Balance,
			AccountVersion: ev.Version,
			At:             at,
		}, nil
	case ledger.OpDeposit, ledger.OpWithdraw:
		typ := TypeDeposited
		if ev.Op == ledger.OpWithdraw {
			typ = TypeWithdrawn
		}
		return typ, ev.Account.String(), balanceChangedPayload{
			AccountID:      ev.Account.String(),
			AmountCents:    ev.Amount,
			BalanceCents:   ev.Balance,
			AccountVersion: ev.Version,
			At:             at,
		}, nil
	case ledger.OpTransfer:
		return TypeTransferPosted, ev.TxID.String(), transferPostedPayload{
			TxID:             ev.TxID.String(),
			From:             ev.Account.String(),
			To:               ev.Counterparty.String(),
			AmountCents:      ev.Amount,
			FromBalanceCents: ev.Balance,
			ToBalanceCents:   ev.CounterpartyBalance,
			FromVersion:      ev.Version,
			ToVersion:        ev.CounterpartyVersion,
			At:               at,
		}, nil
	default:
		return "", "", nil, fmt.Errorf("%w: unknown op %q", ErrValidation, ev.Op)
	}
}

// Journal is safe for concurrent use. It implements ledger.Observer.
type Journal struct {
	runID uuid.UUID
	now   func() time.Time

	mu      sync.RWMutex
	entries []Entry
	// errs counts events that could not be encoded; they are not chained.
	errs int64
}

func New() *Journal {
	return &Journal{runID: uuid.New(), now: time.Now}
}

// RunID identifies this process run; sequence numbers restart per run.
func (j *Journal) RunID() uuid.UUID { return j.runID }

// Append chains a new entry and returns it.
func (j *Journal) Append(eventType, aggregateID string, payload any) (Entry, error) {
	if strings.TrimSpace(eventType) == "" || strings.TrimSpace(aggregateID) == "" {
		return Entry{}, ErrValidation
	}
	payloadCanonical, err := canonical(payload)
	if err != nil {
		return Entry{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	e := Entry{
		Seq:              int64(len(j.entries)) + 1,
		EventID:          uuid.New(),
		Type:             eventType,
		AggregateID:      aggregateID,
		PayloadCanonical: payloadCanonical,
		RecordedAt:       j.now(),
	}
	if n := len(j.entries); n > 0 {
		e.PrevHash = j.entries[n-1].Hash
	}
	e.Hash = ChainHash(e.PrevHash, e.Seq, e.Type, e.PayloadCanonical)
	j.entries = append(j.entries, e)
	return e, nil
}

func (j *Journal) Committed(ev ledger.Event) {
	eventType, aggregateID, payload, err := eventRecord(ev)
	if err == nil {
		_, err = j.Append(eventType, aggregateID, payload)
	}
	if err != nil {
		j.mu.Lock()
		j.errs++
		j.mu.Unlock()
	}
}

// Rejected is a no-op: rejected operations change no state.
func (j *Journal) Rejected(ledger.Op, error) {}

// Since returns a copy of all entries with Seq > seq.
func (j *Journal) Since(seq int64) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(j.entries)) {
		return nil
	}
	out := make([]Entry, len(j.entries)-int(seq))
	copy(out, j.entries[seq:])
	return out
}

// Head returns the last sequence number and hash; (0, zero hash) when empty.
func (j *Journal) Head() (int64, [32]byte) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.entries) == 0 {
		return 0, [32]byte{}
	}
	last := j.entries[len(j.entries)-1]
	return last.Seq, last.Hash
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

func (j *Journal) EncodeErrors() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.errs
}

func (j *Journal) Verify() error {
	return VerifyChain(j.Since(0))
}

// VerifyChain checks sequence contiguity, prev links and recomputes every hash.
func VerifyChain(entries []Entry) error {
	var prev [32]byte
	for i, e := range entries {
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			return fmt.Errorf("%w: seq not contiguous at %d", ErrChainBroken, e.Seq)
		}
		if i > 0 && e.PrevHash != prev {
			return fmt.Errorf("%w: prev_hash mismatch at seq=%d", ErrChainBroken, e.Seq)
		}
		if ChainHash(e.PrevHash, e.Seq, e.Type, e.PayloadCanonical) != e.Hash {
			return fmt.Errorf("%w: hash mismatch at seq=%d", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}
