package escrow

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/observability"
)

// Auditor records settlements to the external audit trail. Optional and
// fire-and-forget.
type Auditor interface {
	LogSettlement(ctx context.Context, b *domain.Booking, tx domain.EscrowTransaction) error
}

// Service owns the escrow state machine for a booking: Held, then exactly
// one of Released or Refunded. Both target states are terminal; the guard in
// terminalTransaction makes Release and Refund idempotent so the expiry and
// auto-release sweeps can retry after a crash without double-crediting a
// wallet.
type Service struct {
	ledger   domain.Ledger
	listings domain.ListingProvider
	audit    Auditor
	logger   observability.Logger
	now      func() time.Time
}

func NewService(ledger domain.Ledger, listings domain.ListingProvider, audit Auditor, logger observability.Logger) *Service {
	return &Service{
		ledger:   ledger,
		listings: listings,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the service's time source. Tests use this to pin
// transaction timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PlaceHold appends a Hold transaction for the booking's total and marks the
// booking paid into escrow. Held funds are conceptually outside both
// parties' wallets, so no wallet is touched. The booking is not persisted
// here; the factory saves it together with the hold's transaction id.
func (s *Service) PlaceHold(ctx context.Context, b *domain.Booking, payerID uuid.UUID) (uuid.UUID, error) {
	if b.TotalPrice < 0 {
		return uuid.Nil, errors.Wrapf(domain.ErrPayment, "negative hold amount %.2f for booking %s", b.TotalPrice, b.ID)
	}

	tx := domain.EscrowTransaction{
		ID:        uuid.New(),
		BookingID: b.ID,
		Kind:      domain.TxHold,
		Amount:    b.TotalPrice,
		CreatedAt: s.now(),
		Note:      "escrow hold placed by " + payerID.String(),
	}
	if err := s.ledger.AppendTransaction(ctx, tx); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrPayment, "placing hold for booking %s: %v", b.ID, err)
	}

	b.PaymentStatus = "Paid - Escrow"
	b.TransactionIDs = append(b.TransactionIDs, tx.ID)
	return tx.ID, nil
}

// Release settles the booking in the host's favor: it credits the host
// wallet with the total minus the platform service fee and marks the booking
// Completed. Calling Release on an already-settled booking returns the
// existing terminal transaction id and does nothing.
func (s *Service) Release(ctx context.Context, b *domain.Booking) (uuid.UUID, error) {
	if existing, ok, err := s.terminalTransaction(ctx, b); err != nil {
		return uuid.Nil, err
	} else if ok {
		return existing.ID, nil
	}

	listing, err := s.listings.GetListing(ctx, b.ListingID)
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "listing %s for booking %s: %v", b.ListingID, b.ID, err)
	}

	amount := b.TotalPrice - b.ServiceFee
	tx := domain.EscrowTransaction{
		ID:        uuid.New(),
		BookingID: b.ID,
		Kind:      domain.TxRelease,
		Amount:    amount,
		CreatedAt: s.now(),
		Note:      "escrow released to host " + listing.HostID.String(),
	}
	if err := s.ledger.AppendTransaction(ctx, tx); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "recording release for booking %s: %v", b.ID, err)
	}
	if err := s.ledger.CreditWallet(ctx, listing.HostID, amount); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "crediting host %s for booking %s: %v", listing.HostID, b.ID, err)
	}

	b.Status = domain.StatusCompleted
	b.PaymentStatus = "Released"
	b.TransactionIDs = append(b.TransactionIDs, tx.ID)
	if err := s.ledger.SaveBooking(ctx, b, releasedEvent(b, amount)); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "saving released booking %s: %v", b.ID, err)
	}

	s.recordAudit(ctx, b, tx)
	return tx.ID, nil
}

// Refund settles the booking in the guest's favor: it credits the guest
// wallet with the full total and marks the booking Cancelled. Idempotent
// under the same guard as Release.
func (s *Service) Refund(ctx context.Context, b *domain.Booking, by, reason string) (uuid.UUID, error) {
	if existing, ok, err := s.terminalTransaction(ctx, b); err != nil {
		return uuid.Nil, err
	} else if ok {
		return existing.ID, nil
	}

	tx := domain.EscrowTransaction{
		ID:        uuid.New(),
		BookingID: b.ID,
		Kind:      domain.TxRefund,
		Amount:    b.TotalPrice,
		CreatedAt: s.now(),
		Note:      reason,
	}
	if err := s.ledger.AppendTransaction(ctx, tx); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "recording refund for booking %s: %v", b.ID, err)
	}
	if err := s.ledger.CreditWallet(ctx, b.UserID, b.TotalPrice); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "crediting guest %s for booking %s: %v", b.UserID, b.ID, err)
	}

	now := s.now()
	b.Status = domain.StatusCancelled
	b.PaymentStatus = "Refunded"
	b.CancelledAt = &now
	b.CancelledBy = by
	b.CancellationReason = reason
	b.TransactionIDs = append(b.TransactionIDs, tx.ID)
	if err := s.ledger.SaveBooking(ctx, b, refundedEvent(b)); err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrSettlement, "saving refunded booking %s: %v", b.ID, err)
	}

	s.recordAudit(ctx, b, tx)
	return tx.ID, nil
}

// terminalTransaction looks for an existing Release or Refund transaction on
// the booking. The check reads the durable transaction list rather than the
// in-memory booking so it survives a scheduler crash-and-restart.
func (s *Service) terminalTransaction(ctx context.Context, b *domain.Booking) (domain.EscrowTransaction, bool, error) {
	txs, err := s.ledger.TransactionsForBooking(ctx, b.ID)
	if err != nil {
		return domain.EscrowTransaction{}, false, errors.Wrapf(domain.ErrSettlement, "loading transactions for booking %s: %v", b.ID, err)
	}
	for _, tx := range txs {
		if tx.Terminal() {
			return tx, true, nil
		}
	}
	return domain.EscrowTransaction{}, false, nil
}

func (s *Service) recordAudit(ctx context.Context, b *domain.Booking, tx domain.EscrowTransaction) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogSettlement(ctx, b, tx); err != nil {
		s.logger.WithField("booking_id", b.ID).Warn("audit log write failed: ", err)
	}
}
