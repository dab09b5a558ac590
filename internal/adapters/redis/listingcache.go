package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/observability"
)

// CachedListings is a read-through cache in front of the listing catalog.
// Cache failures fall back to the inner provider; pricing always gets an
// answer if the catalog has one.
type CachedListings struct {
	inner  domain.ListingProvider
	cache  *Cache
	ttl    time.Duration
	logger observability.Logger
}

func NewCachedListings(inner domain.ListingProvider, cache *Cache, ttl time.Duration, logger observability.Logger) *CachedListings {
	return &CachedListings{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedListings) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	cached, err := c.cache.GetListing(ctx, id)
	if err != nil {
		c.logger.Warn("listing cache read failed: ", err)
	}
	if cached != nil {
		return cached, nil
	}

	listing, err := c.inner.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetListing(ctx, listing, c.ttl); err != nil {
		c.logger.Warn("listing cache write failed: ", err)
	}
	return listing, nil
}
