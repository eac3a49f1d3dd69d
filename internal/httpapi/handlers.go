package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"account-ledger/internal/domain"
	"account-ledger/internal/journal"
	"account-ledger/internal/ledger"

	"github.com/google/uuid"
)

type Handlers struct {
	reg *ledger.Registry
	j   *journal.Journal
}

func NewHandlers(reg *ledger.Registry, j *journal.Journal) *Handlers {
	return &Handlers{reg: reg, j: j}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, domain.ErrorResponse{Error: msg})
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	// Registry business errors
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrSameAccount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInvalidAccount):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	// Don’t leak internals on 5xx.
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}

func writeLedgerErr(w http.ResponseWriter, err error) {
	code := httpStatusForErr(err)
	resp := domain.ErrorResponse{Error: publicErrMessage(code, err)}
	var ife *ledger.InsufficientFundsError
	if errors.As(err, &ife) {
		resp.RequestedCents = &ife.Requested
		resp.AvailableCents = &ife.Available
	}
	writeJSON(w, code, resp)
}

// POST /v1/accounts
func (h *Handlers) OpenAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.OpenAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.reg.Open(req.InitialBalanceCents)
	if err != nil {
		writeLedgerErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domain.OpenAccountResponse{AccountID: id})
}

func (h *Handlers) PostTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.PostTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	txID, err := h.reg.Transfer(req.FromAccountID, req.ToAccountID, req.AmountCents)
	if err != nil {
		writeLedgerErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domain.PostTransferResponse{TxID: txID})
}

// AccountByPath serves
//
//	GET  /v1/accounts/{uuid}/balance
//	POST /v1/accounts/{uuid}/deposit
//	POST /v1/accounts/{uuid}/withdraw
func (h *Handlers) AccountByPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	accID, err := uuid.Parse(parts[0])
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid account id")
		return
	}

	switch parts[1] {
	case "balance":
		h.balance(w, r, accID)
	case "deposit":
		h.changeBalance(w, r, accID, h.reg.Deposit)
	case "withdraw":
		h.changeBalance(w, r, accID, h.reg.Withdraw)
	default:
		writeErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handlers) balance(w http.ResponseWriter, r *http.Request, accID uuid.UUID) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.writeBalance(w, accID)
}

func (h *Handlers) writeBalance(w http.ResponseWriter, accID uuid.UUID) {
	snap, err := h.reg.Snapshot(accID)
	if err != nil {
		writeLedgerErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.BalanceResponse{
		AccountID:    snap.ID,
		BalanceCents: snap.Balance,
		Version:      snap.Version,
	})
}

func (h *Handlers) changeBalance(w http.ResponseWriter, r *http.Request, accID uuid.UUID, apply func(uuid.UUID, int64) error) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := apply(accID, req.AmountCents); err != nil {
		writeLedgerErr(w, err)
		return
	}

	// Report the balance after the call; it may already include later mutations.
	h.writeBalance(w, accID)
}

func (h *Handlers) APR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, domain.APRResponse{APR: h.reg.CurrentAPR().String()})
}

func (h *Handlers) JournalHead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	seq, hash := h.j.Head()
	writeJSON(w, http.StatusOK, domain.JournalHeadResponse{
		RunID:   h.j.RunID(),
		Seq:     seq,
		HashHex: hex.EncodeToString(hash[:]),
	})
}

// GET /v1/journal/export streams the chain as CSV for cmd/proof-verify.
func (h *Handlers) JournalExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="journal-`+h.j.RunID().String()+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_ = h.j.WriteCSV(w)
}
