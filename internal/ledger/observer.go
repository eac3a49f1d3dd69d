package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Op string

const (
	OpOpen     Op = "open"
	OpDeposit  Op = "deposit"
	OpWithdraw Op = "withdraw"
	OpTransfer Op = "transfer"
)

// Event describes one committed mutation. For transfers Account is the
// debited side and Counterparty the credited side.
type Event struct {
	Op                  Op
	TxID                uuid.UUID
	Account             uuid.UUID
	Counterparty        uuid.UUID
	Amount              int64
	Balance             int64
	CounterpartyBalance int64
	Version             uint64
	CounterpartyVersion uint64
	At                  time.Time
}

// Observer is notified after a mutation has been committed or rejected.
// Calls happen outside any account lock and may be concurrent, so
// implementations must be safe for concurrent use. Events for the same
// account can arrive out of order; Version restores it.
type Observer interface {
	Committed(ev Event)
	Rejected(op Op, err error)
}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) Committed(ev Event) {
	for _, o := range m {
		o.Committed(ev)
	}
}

func (m multiObserver) Rejected(op Op, err error) {
	for _, o := range m {
		o.Rejected(op, err)
	}
}
