package usecase

import (
	"context"
	"encoding/json"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgkafka "PricePulse/pkg/kafka"
)

// KafkaObservationsHandler consumes observation messages from Kafka and
// writes them to the price store. Runs only when backend.type is "kafka".
type KafkaObservationsHandler struct {
	topic   string
	prices  domrepo.PriceStore
	metrics domrepo.Metrics
	inv     CompareInvalidator
}

func NewKafkaObservationsHandler(topic string, prices domrepo.PriceStore, metrics domrepo.Metrics) *KafkaObservationsHandler {
	return &KafkaObservationsHandler{topic: topic, prices: prices, metrics: metrics}
}

// SetInvalidator attaches the post-write fanout. The consumer is where a
// kafka-backed write actually lands, so cache invalidation and retrain
// scheduling hang off this path rather than the publish.
func (h *KafkaObservationsHandler) SetInvalidator(inv CompareInvalidator) { h.inv = inv }

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var obs models.PriceObservation
	if err := json.Unmarshal(b, &obs); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if obs.IngestedAt.IsZero() {
		obs.IngestedAt = time.Now().UTC()
	}
	// E2E latency from scrape time to storage write
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(obs.ObservedAt).Seconds())

	start := time.Now()
	if err := h.prices.Record(ctx, obs); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("store_insert_seconds", time.Since(start).Seconds())
	h.metrics.RecordLastPrice(obs.ProductID, obs.StoreID, obs.Price)
	if h.inv != nil {
		h.inv.Invalidate(ctx, obs.ProductID)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
