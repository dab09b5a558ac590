package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/escrow"
	"github.com/stayspot/booking-engine/internal/observability"
	"github.com/stayspot/booking-engine/internal/pricing"
)

// Escrow is the slice of the escrow service the factory needs.
type Escrow interface {
	PlaceHold(ctx context.Context, b *domain.Booking, payerID uuid.UUID) (uuid.UUID, error)
}

// ReservationRequest is one user-initiated reservation: one listing, one or
// more dates, and the client's price breakdown. For multi-date requests the
// money fields are group totals.
type ReservationRequest struct {
	ListingID      uuid.UUID
	UserID         uuid.UUID
	Dates          []time.Time
	Hours          []int
	Duration       int
	GuestCount     int
	SelectedAddOns []string
	TotalPrice     float64
	ServiceFee     float64
	CautionFee     float64
}

// Factory turns reservation requests into persisted bookings with escrow
// holds. The multi-date loop is sequential by design so partial-failure
// reporting stays deterministic and ordered.
type Factory struct {
	ledger    domain.Ledger
	escrow    Escrow
	listings  domain.ListingProvider
	validator pricing.Validator
	logger    observability.Logger
	now       func() time.Time
}

func NewFactory(ledger domain.Ledger, esc Escrow, listings domain.ListingProvider, validator pricing.Validator, logger observability.Logger) *Factory {
	return &Factory{
		ledger:    ledger,
		escrow:    esc,
		listings:  listings,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the factory's time source for tests.
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// CreateBookings builds, validates, holds and persists one booking per
// requested date, in request order. On a validation or hold failure at date
// k the loop stops: bookings for dates 1..k-1 are kept (never rolled back)
// and are returned together with the error for the remainder. A guest who
// books five recurring dates and fails on the fourth keeps the first three.
func (f *Factory) CreateBookings(ctx context.Context, req ReservationRequest) ([]domain.Booking, error) {
	if len(req.Dates) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "reservation has no dates")
	}

	listing, err := f.listings.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "listing %s: %v", req.ListingID, err)
	}

	numDates := len(req.Dates)
	var groupID *uuid.UUID
	if numDates > 1 {
		id := uuid.New()
		groupID = &id
	}

	status := domain.StatusPending
	if listing.Settings.InstantBook {
		status = domain.StatusConfirmed
	}

	created := make([]domain.Booking, 0, numDates)
	for i, date := range req.Dates {
		now := f.now()
		b := domain.Booking{
			ID:                domain.NewBookingID(now, i),
			ListingID:         req.ListingID,
			UserID:            req.UserID,
			GroupID:           groupID,
			Date:              date,
			Duration:          req.Duration,
			Hours:             req.Hours,
			BookingType:       listing.PriceUnit,
			TotalPrice:        req.TotalPrice / float64(numDates),
			ServiceFee:        req.ServiceFee / float64(numDates),
			CautionFee:        req.CautionFee / float64(numDates),
			GuestCount:        req.GuestCount,
			SelectedAddOns:    req.SelectedAddOns,
			Status:            status,
			EscrowReleaseDate: escrow.CalculateReleaseDate(date, req.Hours, req.Duration, listing.PriceUnit),
			CreatedAt:         now,
		}

		// Validate before the hold: a tampered price must never place
		// funds into escrow.
		if err := f.validator.Validate(&b, listing, numDates); err != nil {
			return created, err
		}

		if _, err := f.escrow.PlaceHold(ctx, &b, req.UserID); err != nil {
			return created, err
		}

		if err := f.ledger.SaveBooking(ctx, &b, createdEvent(&b)); err != nil {
			return created, errors.Wrapf(domain.ErrPayment, "persisting booking %s: %v", b.ID, err)
		}

		created = append(created, b)
		observability.BookingsCreated.Inc()
	}

	return created, nil
}

func createdEvent(b *domain.Booking) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id": b.ID,
		"listing_id": b.ListingID,
		"user_id":    b.UserID,
		"status":     b.Status,
		"total":      b.TotalPrice,
	})
	return domain.OutboxEvent{Type: "booking.created", Payload: payload}
}
