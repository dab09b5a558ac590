package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stayspot/booking-engine/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func listingKey(id uuid.UUID) string {
	return "listing:" + id.String()
}

// GetListing returns the cached listing, or (nil, nil) on a cache miss.
func (c *Cache) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	val, err := c.client.Get(ctx, listingKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var l domain.Listing
	if err := json.Unmarshal(val, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Cache) SetListing(ctx context.Context, l *domain.Listing, ttl time.Duration) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listingKey(l.ID), data, ttl).Err()
}
