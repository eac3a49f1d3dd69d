package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSameAccount       = errors.New("source and destination account are the same")
)

// InsufficientFundsError carries the amounts involved in a rejected debit.
// It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	Account   uuid.UUID
	Requested int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: requested %d, available %d", e.Account, e.Requested, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

func invalidAccount(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", ErrInvalidAccount, id)
}

func invalidAmount(amount int64) error {
	return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
}
