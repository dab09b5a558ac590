package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ListingCatalog is the read side of the listings collection. Listing CRUD
// and the listing wizard live in another service; the engine only consumes
// canonical pricing, the host id and the instant-book flag.
type ListingCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewListingCatalog(db *mongo.Database, logger observability.Logger) *ListingCatalog {
	return &ListingCatalog{
		coll:   db.Collection("listings"),
		logger: logger,
	}
}

type ListingDoc struct {
	ID                 uuid.UUID          `bson:"_id"`
	HostID             uuid.UUID          `bson:"host_id"`
	Title              string             `bson:"title"`
	Price              float64            `bson:"price"`
	PriceUnit          string             `bson:"price_unit"`
	PricePerExtraGuest float64            `bson:"price_per_extra_guest"`
	CautionFee         float64            `bson:"caution_fee"`
	AddOns             []AddOnDoc         `bson:"add_ons"`
	Settings           ListingSettingsDoc `bson:"settings"`
	CreatedAt          time.Time          `bson:"created_at"`
	UpdatedAt          time.Time          `bson:"updated_at"`
}

type AddOnDoc struct {
	ID    string  `bson:"id"`
	Name  string  `bson:"name"`
	Price float64 `bson:"price"`
}

type ListingSettingsDoc struct {
	InstantBook bool `bson:"instant_book"`
}

func (c *ListingCatalog) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	var doc ListingDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Wrapf(domain.ErrNotFound, "listing %s", id)
	}
	if err != nil {
		c.logger.Error("failed to get listing", err)
		return nil, err
	}
	return doc.toDomain(), nil
}

// CreateListing exists for seeding and tests; the engine itself never
// writes listings.
func (c *ListingCatalog) CreateListing(ctx context.Context, doc ListingDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Error("failed to create listing", err)
		return err
	}
	return nil
}

func (d *ListingDoc) toDomain() *domain.Listing {
	addOns := make([]domain.AddOn, 0, len(d.AddOns))
	for _, a := range d.AddOns {
		addOns = append(addOns, domain.AddOn{ID: a.ID, Name: a.Name, Price: a.Price})
	}
	return &domain.Listing{
		ID:                 d.ID,
		HostID:             d.HostID,
		Title:              d.Title,
		Price:              d.Price,
		PriceUnit:          domain.BookingType(d.PriceUnit),
		PricePerExtraGuest: d.PricePerExtraGuest,
		CautionFee:         d.CautionFee,
		AddOns:             addOns,
		Settings:           domain.ListingSettings{InstantBook: d.Settings.InstantBook},
	}
}
