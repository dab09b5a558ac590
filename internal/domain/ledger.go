package domain

import (
	"context"

	"github.com/google/uuid"
)

// OutboxEvent is broadcast to external listeners after the mutation that
// produced it is durable. Delivery is best-effort and handled by a separate
// publisher process.
type OutboxEvent struct {
	Type    string
	Payload []byte
}

// Ledger is the durable keyed store for bookings, escrow transactions and
// wallets. Every method is an atomic read-modify-write on a single entity
// key; cross-entity consistency comes from the escrow service's idempotency
// guard, not from locking.
type Ledger interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)
	// SaveBooking upserts the booking and, in the same write, enqueues any
	// outbox events describing the change.
	SaveBooking(ctx context.Context, b *Booking, events ...OutboxEvent) error
	ListBookingsByStatus(ctx context.Context, status BookingStatus) ([]Booking, error)

	AppendTransaction(ctx context.Context, tx EscrowTransaction) error
	TransactionsForBooking(ctx context.Context, bookingID string) ([]EscrowTransaction, error)

	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	CreditWallet(ctx context.Context, userID uuid.UUID, amount float64) error
}
