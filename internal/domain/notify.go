package domain

import (
	"context"

	"github.com/google/uuid"
)

type Notification struct {
	Type     string
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Notifier delivers user-facing notifications. Delivery is fire-and-forget:
// a failed notification must never fail the settlement that produced it.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, n Notification) error
}
