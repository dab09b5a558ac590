package escrow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/escrow"
	"github.com/stayspot/booking-engine/internal/observability"
)

type fakeLedger struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
	txs      []domain.EscrowTransaction
	wallets  map[uuid.UUID]float64
	events   []domain.OutboxEvent

	appendErr error
	creditErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		bookings: make(map[string]domain.Booking),
		wallets:  make(map[uuid.UUID]float64),
	}
}

func (f *fakeLedger) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (f *fakeLedger) SaveBooking(ctx context.Context, b *domain.Booking, events ...domain.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = *b
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeLedger) ListBookingsByStatus(ctx context.Context, status domain.BookingStatus) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Booking
	for _, b := range f.bookings {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeLedger) AppendTransaction(ctx context.Context, tx domain.EscrowTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.txs = append(f.txs, tx)
	return nil
}

func (f *fakeLedger) TransactionsForBooking(ctx context.Context, bookingID string) ([]domain.EscrowTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EscrowTransaction
	for _, tx := range f.txs {
		if tx.BookingID == bookingID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.wallets[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Wallet{UserID: userID, Balance: bal}, nil
}

func (f *fakeLedger) CreditWallet(ctx context.Context, userID uuid.UUID, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return f.creditErr
	}
	f.wallets[userID] += amount
	return nil
}

func (f *fakeLedger) countKind(bookingID string, kind domain.TransactionKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tx := range f.txs {
		if tx.BookingID == bookingID && tx.Kind == kind {
			n++
		}
	}
	return n
}

type fakeListings struct {
	listings map[uuid.UUID]*domain.Listing
}

func (f *fakeListings) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return l, nil
}

func testService(t *testing.T) (*escrow.Service, *fakeLedger, *domain.Listing, *domain.Booking) {
	t.Helper()
	ledger := newFakeLedger()
	listing := &domain.Listing{
		ID:        uuid.New(),
		HostID:    uuid.New(),
		Price:     100,
		PriceUnit: domain.BookingNightly,
	}
	listings := &fakeListings{listings: map[uuid.UUID]*domain.Listing{listing.ID: listing}}
	svc := escrow.NewService(ledger, listings, nil, observability.NewLogger())

	b := &domain.Booking{
		ID:         domain.NewBookingID(time.Now(), 0),
		ListingID:  listing.ID,
		UserID:     uuid.New(),
		Status:     domain.StatusConfirmed,
		TotalPrice: 110,
		ServiceFee: 10,
		CreatedAt:  time.Now(),
	}
	return svc, ledger, listing, b
}

func TestPlaceHold_NoWalletTouched(t *testing.T) {
	svc, ledger, _, b := testService(t)

	txID, err := svc.PlaceHold(context.Background(), b, b.UserID)
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}
	if txID == uuid.Nil {
		t.Fatal("expected a transaction id")
	}
	if b.PaymentStatus != "Paid - Escrow" {
		t.Errorf("payment status %q", b.PaymentStatus)
	}
	if len(ledger.wallets) != 0 {
		t.Error("hold must not touch any wallet")
	}
	if got := ledger.countKind(b.ID, domain.TxHold); got != 1 {
		t.Errorf("expected 1 hold transaction, got %d", got)
	}
}

func TestRelease_CreditsHostMinusFee(t *testing.T) {
	svc, ledger, listing, b := testService(t)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Release(context.Background(), b); err != nil {
		t.Fatalf("release: %v", err)
	}

	txs, _ := ledger.TransactionsForBooking(context.Background(), b.ID)
	for _, tx := range txs {
		if !tx.CreatedAt.Equal(fixed) {
			t.Errorf("transaction timestamp %v, expected pinned clock %v", tx.CreatedAt, fixed)
		}
	}

	if got := ledger.wallets[listing.HostID]; got != 100 {
		t.Errorf("host balance %v, expected 100", got)
	}
	if b.Status != domain.StatusCompleted {
		t.Errorf("status %s, expected completed", b.Status)
	}
	if b.PaymentStatus != "Released" {
		t.Errorf("payment status %q", b.PaymentStatus)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	svc, ledger, listing, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Release(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Release(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("repeated release returned a different transaction: %s vs %s", first, second)
	}
	if got := ledger.countKind(b.ID, domain.TxRelease); got != 1 {
		t.Errorf("expected exactly 1 release transaction, got %d", got)
	}
	if got := ledger.wallets[listing.HostID]; got != 100 {
		t.Errorf("host credited %v, expected a single credit of 100", got)
	}
}

func TestRefund_Idempotent(t *testing.T) {
	svc, ledger, _, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Refund(context.Background(), b, "system", "host did not respond")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Refund(context.Background(), b, "system", "host did not respond")
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("repeated refund returned a different transaction: %s vs %s", first, second)
	}
	if got := ledger.countKind(b.ID, domain.TxRefund); got != 1 {
		t.Errorf("expected exactly 1 refund transaction, got %d", got)
	}
	if got := ledger.wallets[b.UserID]; got != 110 {
		t.Errorf("guest credited %v, expected a single credit of 110", got)
	}
}

func TestRefund_RecordsCancellation(t *testing.T) {
	svc, _, _, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Refund(context.Background(), b, "guest", "change of plans"); err != nil {
		t.Fatal(err)
	}

	if b.Status != domain.StatusCancelled {
		t.Errorf("status %s, expected cancelled", b.Status)
	}
	if b.CancelledBy != "guest" || b.CancellationReason != "change of plans" {
		t.Errorf("cancellation audit fields not recorded: %q %q", b.CancelledBy, b.CancellationReason)
	}
	if b.CancelledAt == nil {
		t.Error("cancelled_at not set")
	}
}

// A booking must have at most one terminal settlement: release then refund
// (or the reverse, in a sweep race) must not produce a second credit.
func TestReleaseThenRefund_SingleSettlement(t *testing.T) {
	svc, ledger, listing, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}

	releaseID, err := svc.Release(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	refundID, err := svc.Refund(context.Background(), b, "system", "expiry")
	if err != nil {
		t.Fatal(err)
	}

	if refundID != releaseID {
		t.Errorf("refund after release must return the existing settlement, got %s vs %s", refundID, releaseID)
	}
	if got := ledger.wallets[b.UserID]; got != 0 {
		t.Errorf("guest wallet credited %v after release, expected 0", got)
	}
	if got := ledger.wallets[listing.HostID]; got != 100 {
		t.Errorf("host wallet %v, expected 100", got)
	}
}

// Across Hold -> Release, the hold amount equals host credit plus the
// platform fee; no money is created or lost.
func TestConservationOfFunds(t *testing.T) {
	svc, ledger, listing, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Release(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	txs, _ := ledger.TransactionsForBooking(context.Background(), b.ID)
	var held, released float64
	for _, tx := range txs {
		switch tx.Kind {
		case domain.TxHold:
			held += tx.Amount
		case domain.TxRelease:
			released += tx.Amount
		}
	}
	if held != b.TotalPrice {
		t.Errorf("held %v, expected %v", held, b.TotalPrice)
	}
	hostBalance := ledger.wallets[listing.HostID]
	if hostBalance+b.ServiceFee != held {
		t.Errorf("host credit %v + fee %v must equal held %v", hostBalance, b.ServiceFee, held)
	}
	if released != hostBalance {
		t.Errorf("release transaction %v must match host credit %v", released, hostBalance)
	}
}

// Simulates a scheduler restart: a second service instance sharing the same
// ledger must still see the terminal transaction and skip the credit.
func TestRelease_IdempotentAcrossRestart(t *testing.T) {
	svc, ledger, listing, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Release(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	listings := &fakeListings{listings: map[uuid.UUID]*domain.Listing{listing.ID: listing}}
	restarted := escrow.NewService(ledger, listings, nil, observability.NewLogger())

	// The restarted process re-reads the booking from the ledger.
	fresh, err := ledger.GetBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := restarted.Release(context.Background(), fresh); err != nil {
		t.Fatal(err)
	}

	if got := ledger.countKind(b.ID, domain.TxRelease); got != 1 {
		t.Errorf("expected exactly 1 release transaction after restart, got %d", got)
	}
	if got := ledger.wallets[listing.HostID]; got != 100 {
		t.Errorf("host credited %v, expected single credit of 100", got)
	}
}

func TestRelease_LedgerFailureSurfacesSettlementError(t *testing.T) {
	svc, ledger, _, b := testService(t)
	if _, err := svc.PlaceHold(context.Background(), b, b.UserID); err != nil {
		t.Fatal(err)
	}

	ledger.appendErr = errors.New("disk full")
	_, err := svc.Release(context.Background(), b)
	if !errors.Is(err, domain.ErrSettlement) {
		t.Fatalf("expected settlement error, got %v", err)
	}
}
