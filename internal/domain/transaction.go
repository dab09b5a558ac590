package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	TxHold    TransactionKind = "HOLD"
	TxRelease TransactionKind = "RELEASE"
	TxRefund  TransactionKind = "REFUND"
)

// EscrowTransaction is one append-only ledger entry. Transactions are never
// mutated or deleted; together they form the audit trail for every balance
// change.
type EscrowTransaction struct {
	ID        uuid.UUID
	BookingID string
	Kind      TransactionKind
	Amount    float64
	CreatedAt time.Time
	Note      string
}

// Terminal reports whether the transaction settles its booking.
func (t EscrowTransaction) Terminal() bool {
	return t.Kind == TxRelease || t.Kind == TxRefund
}

// Wallet holds a user's settled funds. The balance is mutated only by the
// escrow service applying a Release or Refund transaction.
type Wallet struct {
	UserID  uuid.UUID
	Balance float64
}
