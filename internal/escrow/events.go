package escrow

import (
	"encoding/json"

	"github.com/stayspot/booking-engine/internal/domain"
)

func releasedEvent(b *domain.Booking, amount float64) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id": b.ID,
		"user_id":    b.UserID,
		"amount":     amount,
	})
	return domain.OutboxEvent{Type: "booking.released", Payload: payload}
}

func refundedEvent(b *domain.Booking) domain.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{
		"booking_id": b.ID,
		"user_id":    b.UserID,
		"amount":     b.TotalPrice,
		"reason":     b.CancellationReason,
	})
	return domain.OutboxEvent{Type: "booking.refunded", Payload: payload}
}
