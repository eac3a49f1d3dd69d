// Package ledger holds account balances in memory and serializes every
// mutation per account. Transfers lock both accounts in ascending id order,
// so opposite-direction transfers between the same pair cannot deadlock.
package ledger

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAPR is returned by CurrentAPR unless WithAPR overrides it.
var DefaultAPR = decimal.RequireFromString("0.035")

// Option configures a Registry built by New.
type Option func(*Options)

// Options holds the settings applied by Option functions.
type Options struct {
	Observer Observer
	APR      decimal.Decimal
	Now      func() time.Time
}

func defaultOptions() Options {
	return Options{APR: DefaultAPR, Now: time.Now}
}

// WithObserver sets the observer notified after each operation.
func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// WithAPR overrides DefaultAPR.
func WithAPR(apr decimal.Decimal) Option { return func(o *Options) { o.APR = apr } }

// WithClock sets the clock used for opening times and event timestamps.
func WithClock(now func() time.Time) Option { return func(o *Options) { o.Now = now } }

// Snapshot is a read-only copy of an account taken under its read lock.
type Snapshot struct {
	ID       uuid.UUID
	Balance  int64
	Version  uint64
	OpenedAt time.Time
}

type account struct {
	id       uuid.UUID
	openedAt time.Time

	mu      sync.RWMutex
	balance int64
	version uint64
}

// apply changes the balance by delta. Caller holds a.mu for writing.
func (a *account) apply(delta int64) {
	a.balance += delta
	a.version++
	if a.balance < 0 {
		panic(fmt.Sprintf("ledger: account %s balance went negative (%d)", a.id, a.balance))
	}
}

func (a *account) canCredit(amount int64) bool {
	return a.balance <= math.MaxInt64-amount
}

// Registry owns every account and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex // guards accounts only, never held across a balance change
	accounts map[uuid.UUID]*account

	obs Observer
	apr decimal.Decimal
	now func() time.Time
}

// New returns an empty registry.
func New(optFns ...Option) *Registry {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		accounts: make(map[uuid.UUID]*account),
		obs:      Observers(opts.Observer),
		apr:      opts.APR,
		now:      opts.Now,
	}
}

// Open creates an account holding initialBalance and returns its id.
func (r *Registry) Open(initialBalance int64) (uuid.UUID, error) {
	if initialBalance < 0 {
		return uuid.Nil, r.reject(OpOpen, invalidAmount(initialBalance))
	}

	acc := &account{
		id:       uuid.New(),
		openedAt: r.now(),
		balance:  initialBalance,
		version:  1,
	}

	r.mu.Lock()
	for {
		if _, taken := r.accounts[acc.id]; !taken {
			break
		}
		acc.id = uuid.New()
	}
	r.accounts[acc.id] = acc
	r.mu.Unlock()

	r.obs.Committed(Event{
		Op:      OpOpen,
		Account: acc.id,
		Amount:  initialBalance,
		Balance: initialBalance,
		Version: acc.version,
		At:      acc.openedAt,
	})
	return acc.id, nil
}

func (r *Registry) Deposit(id uuid.UUID, amount int64) error {
	if amount < 0 {
		return r.reject(OpDeposit, invalidAmount(amount))
	}
	acc, err := r.lookup(id)
	if err != nil {
		return r.reject(OpDeposit, err)
	}

	var ev Event
	err = exclusive(func() error {
		if !acc.canCredit(amount) {
			return fmt.Errorf("%w: deposit of %d overflows balance", ErrInvalidAmount, amount)
		}
		acc.apply(amount)
		ev = Event{Op: OpDeposit, Account: acc.id, Amount: amount, Balance: acc.balance, Version: acc.version}
		return nil
	}, acc)
	if err != nil {
		return r.reject(OpDeposit, err)
	}

	ev.At = r.now()
	r.obs.Committed(ev)
	return nil
}

// Withdraw debits amount if the balance covers it. The check and the debit
// happen under one lock acquisition.
func (r *Registry) Withdraw(id uuid.UUID, amount int64) error {
	if amount < 0 {
		return r.reject(OpWithdraw, invalidAmount(amount))
	}
	acc, err := r.lookup(id)
	if err != nil {
		return r.reject(OpWithdraw, err)
	}

	var ev Event
	err = exclusive(func() error {
		if acc.balance < amount {
			return &InsufficientFundsError{Account: acc.id, Requested: amount, Available: acc.balance}
		}
		acc.apply(-amount)
		ev = Event{Op: OpWithdraw, Account: acc.id, Amount: amount, Balance: acc.balance, Version: acc.version}
		return nil
	}, acc)
	if err != nil {
		return r.reject(OpWithdraw, err)
	}

	ev.At = r.now()
	r.obs.Committed(ev)
	return nil
}

// Transfer moves amount from one account to another as a single step and
// returns the id correlating both legs. On any failure neither account changes.
func (r *Registry) Transfer(from, to uuid.UUID, amount int64) (uuid.UUID, error) {
	if amount < 0 {
		return uuid.Nil, r.reject(OpTransfer, invalidAmount(amount))
	}
	if from == to {
		return uuid.Nil, r.reject(OpTransfer, fmt.Errorf("%w: %s", ErrSameAccount, from))
	}
	src, err := r.lookup(from)
	if err != nil {
		return uuid.Nil, r.reject(OpTransfer, err)
	}
	dst, err := r.lookup(to)
	if err != nil {
		return uuid.Nil, r.reject(OpTransfer, err)
	}

	txID := uuid.New()
	var ev Event
	err = exclusive(func() error {
		if src.balance < amount {
			return &InsufficientFundsError{Account: src.id, Requested: amount, Available: src.balance}
		}
		if !dst.canCredit(amount) {
			return fmt.Errorf("%w: transfer of %d overflows destination balance", ErrInvalidAmount, amount)
		}
		src.apply(-amount)
		dst.apply(amount)
		ev = Event{
			Op:                  OpTransfer,
			TxID:                txID,
			Account:             src.id,
			Counterparty:        dst.id,
			Amount:              amount,
			Balance:             src.balance,
			CounterpartyBalance: dst.balance,
			Version:             src.version,
			CounterpartyVersion: dst.version,
		}
		return nil
	}, src, dst)
	if err != nil {
		return uuid.Nil, r.reject(OpTransfer, err)
	}

	ev.At = r.now()
	r.obs.Committed(ev)
	return txID, nil
}

func (r *Registry) BalanceOf(id uuid.UUID) (int64, error) {
	acc, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	return acc.balance, nil
}

func (r *Registry) Snapshot(id uuid.UUID) (Snapshot, error) {
	acc, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	return Snapshot{ID: acc.id, Balance: acc.balance, Version: acc.version, OpenedAt: acc.openedAt}, nil
}

// Balances reads several accounts at one consistent point: all read locks are
// held together, so a transfer between any of them is seen fully or not at all.
func (r *Registry) Balances(ids ...uuid.UUID) (map[uuid.UUID]int64, error) {
	accs := make([]*account, 0, len(ids))
	for _, id := range ids {
		acc, err := r.lookup(id)
		if err != nil {
			return nil, err
		}
		accs = append(accs, acc)
	}

	out := make(map[uuid.UUID]int64, len(accs))
	shared(func() {
		for _, acc := range accs {
			out[acc.id] = acc.balance
		}
	}, accs...)
	return out, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// CurrentAPR touches no account state and takes no lock.
func (r *Registry) CurrentAPR() decimal.Decimal { return r.apr }

func (r *Registry) lookup(id uuid.UUID) (*account, error) {
	r.mu.RLock()
	acc, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, invalidAccount(id)
	}
	return acc, nil
}

func (r *Registry) reject(op Op, err error) error {
	r.obs.Rejected(op, err)
	return err
}

// lockOrder returns accs sorted by id bytes with duplicates removed. Every
// multi-account acquisition goes through it.
func lockOrder(accs []*account) []*account {
	ordered := slices.Clone(accs)
	slices.SortFunc(ordered, func(a, b *account) int { return bytes.Compare(a.id[:], b.id[:]) })
	return slices.CompactFunc(ordered, func(a, b *account) bool { return a == b })
}

func exclusive(fn func() error, accs ...*account) error {
	ordered := lockOrder(accs)
	for _, acc := range ordered {
		acc.mu.Lock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].mu.Unlock()
		}
	}()
	return fn()
}

func shared(fn func(), accs ...*account) {
	ordered := lockOrder(accs)
	for _, acc := range ordered {
		acc.mu.RLock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].mu.RUnlock()
		}
	}()
	fn()
}
