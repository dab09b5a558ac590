package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
)

type BookingType string

const (
	BookingHourly  BookingType = "HOURLY"
	BookingDaily   BookingType = "DAILY"
	BookingNightly BookingType = "NIGHTLY"
)

// Booking is the unit of settlement. It is created by the booking factory,
// mutated only by the escrow service and the lifecycle scheduler, and is
// immutable once it reaches a terminal status.
type Booking struct {
	ID        string
	ListingID uuid.UUID
	UserID    uuid.UUID
	// GroupID is set only when the booking belongs to a multi-date
	// recurring reservation.
	GroupID *uuid.UUID

	Date     time.Time
	Duration int
	Hours    []int

	BookingType BookingType

	TotalPrice float64
	ServiceFee float64
	CautionFee float64

	GuestCount     int
	SelectedAddOns []string

	Status        BookingStatus
	PaymentStatus string

	EscrowReleaseDate time.Time
	TransactionIDs    []uuid.UUID

	CreatedAt          time.Time
	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string
}

// Terminal reports whether the booking has reached a state that must never
// change again.
func (b *Booking) Terminal() bool {
	return b.Status == StatusCancelled || b.Status == StatusCompleted
}

// NewBookingID derives a booking id from the creation instant and the index
// of the booking within its reservation request. The sequence index keeps ids
// distinct even when a recurring reservation creates several bookings within
// the same millisecond; the random suffix keeps them distinct across
// processes.
func NewBookingID(t time.Time, seq int) string {
	return fmt.Sprintf("bkg_%d_%03d_%s", t.UnixMilli(), seq, uuid.NewString()[:8])
}
