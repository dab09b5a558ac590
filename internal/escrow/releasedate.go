package escrow

import (
	"time"

	"github.com/stayspot/booking-engine/internal/domain"
)

const (
	// NightlyCheckoutHour is the checkout time for nightly stays; escrow
	// becomes releasable at checkout with no extra buffer.
	NightlyCheckoutHour = 11
	// DailyAccessEndHour is the end of the access window for daily
	// bookings.
	DailyAccessEndHour = 23
	// HourlyReleaseBuffer is added after an hourly session ends before the
	// escrow becomes releasable.
	HourlyReleaseBuffer = time.Hour
)

// CalculateReleaseDate is the timestamp after which a booking's escrow may
// be auto-released to the host.
//
// Nightly: checkout time on the morning after the last night.
// Hourly: end of the last selected hour plus a buffer; with no explicit
// hours, end of the access window on the booking date.
// Daily: end of the access window on the last day.
func CalculateReleaseDate(date time.Time, hours []int, duration int, unit domain.BookingType) time.Time {
	if duration < 1 {
		duration = 1
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	switch unit {
	case domain.BookingNightly:
		return day.AddDate(0, 0, duration).Add(NightlyCheckoutHour * time.Hour)
	case domain.BookingHourly:
		if len(hours) == 0 {
			return day.Add(DailyAccessEndHour * time.Hour)
		}
		last := hours[0]
		for _, h := range hours[1:] {
			if h > last {
				last = h
			}
		}
		// Sessions run for the full selected hour, so the session ends at
		// last+1.
		return day.Add(time.Duration(last+1)*time.Hour + HourlyReleaseBuffer)
	default: // daily
		return day.AddDate(0, 0, duration-1).Add(DailyAccessEndHour * time.Hour)
	}
}
