package rabbit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stayspot/booking-engine/internal/domain"
)

// Notifier delivers user notifications over the events exchange. The actual
// notification UI is another service consuming the queue; this side is
// fire-and-forget.
type Notifier struct {
	pub *Publisher
}

func NewNotifier(pub *Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, note domain.Notification) error {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id":  userID,
		"type":     note.Type,
		"title":    note.Title,
		"message":  note.Message,
		"metadata": note.Metadata,
	})
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        payload,
	}
	return n.pub.Publish(ctx, "notification.user", msg)
}
