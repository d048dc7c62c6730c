package repository

import (
	"context"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgkafka "PricePulse/pkg/kafka"
)

// KafkaListingPublisher ships resolved observations to Kafka. Messages are
// keyed by product id so all observations for a product land on the same
// partition and arrive in order.
type KafkaListingPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaListingPublisher(producer *pkgkafka.Producer, topic string) domrepo.ListingPublisher {
	return &KafkaListingPublisher{producer: producer, topic: topic}
}

func (p *KafkaListingPublisher) Publish(ctx context.Context, obs models.PriceObservation) error {
	return p.producer.Publish(ctx, p.topic, []byte(obs.ProductID), obs)
}

func (p *KafkaListingPublisher) PublishBatch(ctx context.Context, obs []models.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(obs))
	for i, o := range obs {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(o.ProductID),
			Value: o,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaListingPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
