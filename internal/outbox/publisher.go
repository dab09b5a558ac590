package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stayspot/booking-engine/internal/adapters/crdb"
	"github.com/stayspot/booking-engine/internal/adapters/rabbit"
	"github.com/stayspot/booking-engine/internal/observability"
)

const (
	pollInterval = 5 * time.Second
	batchSize    = 50
)

// Publisher drains NEW outbox records to the broker. Booking changes become
// the best-effort change broadcast consumed by presentation caches.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, batchSize)
	if err != nil {
		p.logger.Error("fetching outbox records: ", err)
		return
	}
	if len(records) > 0 {
		observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())
	} else {
		observability.OutboxLag.Set(0)
	}

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishRetries.Inc()
			p.logger.WithField("outbox_id", rec.ID.String()).Warn("outbox publish failed, will retry: ", err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now(), rec.DedupeKey); err != nil {
			p.logger.WithField("outbox_id", rec.ID.String()).Error("marking outbox record published: ", err)
		}
	}
}
