package domain

import (
	"context"

	"github.com/google/uuid"
)

type AddOn struct {
	ID    string
	Name  string
	Price float64
}

type ListingSettings struct {
	InstantBook bool
}

// Listing is the read-only view of a space the engine consumes. Listing CRUD
// lives outside this service; the engine only needs the canonical pricing
// fields and the instant-book flag.
type Listing struct {
	ID                 uuid.UUID
	HostID             uuid.UUID
	Title              string
	Price              float64
	PriceUnit          BookingType
	PricePerExtraGuest float64
	CautionFee         float64
	AddOns             []AddOn
	Settings           ListingSettings
}

// AddOnByID returns the listing add-on with the given id, or false if the id
// is not offered by this listing.
func (l *Listing) AddOnByID(id string) (AddOn, bool) {
	for _, a := range l.AddOns {
		if a.ID == id {
			return a, true
		}
	}
	return AddOn{}, false
}

type ListingProvider interface {
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
}
