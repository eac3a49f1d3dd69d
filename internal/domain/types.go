package domain

import "github.com/google/uuid"

type OpenAccountRequest struct {
	InitialBalanceCents int64 `json:"initial_balance_cents"`
}

type OpenAccountResponse struct {
	AccountID uuid.UUID `json:"account_id"`
}

// AmountRequest is the body of deposit and withdraw calls.
type AmountRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type PostTransferRequest struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	AmountCents   int64     `json:"amount_cents"`
}

type PostTransferResponse struct {
	TxID uuid.UUID `json:"tx_id"`
}

type BalanceResponse struct {
	AccountID    uuid.UUID `json:"account_id"`
	BalanceCents int64     `json:"balance_cents"`
	Version      uint64    `json:"version"`
}

type APRResponse struct {
	APR string `json:"apr"`
}

type JournalHeadResponse struct {
	RunID   uuid.UUID `json:"run_id"`
	Seq     int64     `json:"seq"`
	HashHex string    `json:"hash_hex"`
}

type ErrorResponse struct {
	Error          string `json:"error"`
	RequestedCents *int64 `json:"requested_cents,omitempty"`
	AvailableCents *int64 `json:"available_cents,omitempty"`
}
