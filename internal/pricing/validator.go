package pricing

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/stayspot/booking-engine/internal/domain"
)

// Epsilon is the tolerance for comparing client-submitted money amounts
// against the server-side recomputation.
const Epsilon = 0.01

// Validator recomputes a booking's expected total from the listing's
// canonical pricing. It is the control preventing a tampered client from
// booking at an arbitrary price; a mismatch must never silently succeed.
type Validator struct {
	// ServiceFeeRate is the platform fee as a fraction of the subtotal.
	ServiceFeeRate float64
}

// Subtotal is the pre-fee price for one booking: unit price times billed
// units, plus extra-guest charges, plus selected add-ons. It returns
// ErrPriceValidation if the booking selects an add-on the listing does not
// offer.
func (v Validator) Subtotal(b *domain.Booking, l *domain.Listing) (float64, error) {
	subtotal := l.Price * float64(unitCount(b))

	if b.GuestCount > 1 {
		subtotal += l.PricePerExtraGuest * float64(b.GuestCount-1)
	}

	for _, id := range b.SelectedAddOns {
		addOn, ok := l.AddOnByID(id)
		if !ok {
			return 0, errors.Wrapf(domain.ErrPriceValidation, "unknown add-on %q", id)
		}
		subtotal += addOn.Price
	}
	return subtotal, nil
}

// ExpectedTotal is the full per-booking price: subtotal plus the platform
// service fee plus this booking's share of the group caution fee. numDates
// is the number of dates in the reservation group (1 for a single booking).
func (v Validator) ExpectedTotal(b *domain.Booking, l *domain.Listing, numDates int) (float64, error) {
	subtotal, err := v.Subtotal(b, l)
	if err != nil {
		return 0, err
	}
	if numDates < 1 {
		numDates = 1
	}
	return subtotal + v.ServiceFeeRate*subtotal + l.CautionFee/float64(numDates), nil
}

// Validate checks the submitted TotalPrice and ServiceFee against the
// recomputation. Pure check, no side effects.
func (v Validator) Validate(b *domain.Booking, l *domain.Listing, numDates int) error {
	subtotal, err := v.Subtotal(b, l)
	if err != nil {
		return err
	}
	if numDates < 1 {
		numDates = 1
	}

	expectedFee := v.ServiceFeeRate * subtotal
	if math.Abs(b.ServiceFee-expectedFee) > Epsilon {
		return errors.Wrapf(domain.ErrPriceValidation,
			"service fee mismatch: submitted %.2f, expected %.2f", b.ServiceFee, expectedFee)
	}

	expectedTotal := subtotal + expectedFee + l.CautionFee/float64(numDates)
	if math.Abs(b.TotalPrice-expectedTotal) > Epsilon {
		return errors.Wrapf(domain.ErrPriceValidation,
			"total mismatch: submitted %.2f, expected %.2f", b.TotalPrice, expectedTotal)
	}
	return nil
}

// unitCount is the number of billed units for one booking: selected hours
// for hourly listings, duration in days or nights otherwise, never less
// than one.
func unitCount(b *domain.Booking) int {
	n := b.Duration
	if b.BookingType == domain.BookingHourly && len(b.Hours) > 0 {
		n = len(b.Hours)
	}
	if n < 1 {
		n = 1
	}
	return n
}
