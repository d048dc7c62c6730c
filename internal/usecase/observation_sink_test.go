package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
)

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, productIDs ...string) {
	r.ids = append(r.ids, productIDs...)
}

type fakePublisher struct {
	published []models.PriceObservation
}

func (p *fakePublisher) Publish(_ context.Context, obs models.PriceObservation) error {
	p.published = append(p.published, obs)
	return nil
}

func (p *fakePublisher) PublishBatch(_ context.Context, obs []models.PriceObservation) error {
	p.published = append(p.published, obs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func sampleObs(productID string) models.PriceObservation {
	return models.PriceObservation{
		ProductID:  productID,
		StoreID:    "s1",
		Price:      199,
		Currency:   "USD",
		ObservedAt: time.Now().UTC(),
	}
}

func TestDirectSinkFansOutAfterWrite(t *testing.T) {
	prices := repository.NewMemoryPriceStore()
	inv := &recordingInvalidator{}
	sink := NewObservationSink(nil, prices, stubMetrics{}, "direct")
	sink.SetInvalidator(inv)

	if err := sink.Write(context.Background(), sampleObs("p1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(inv.ids) != 1 || inv.ids[0] != "p1" {
		t.Fatalf("invalidated = %v, want [p1]", inv.ids)
	}
}

func TestKafkaSinkDefersFanoutToConsumer(t *testing.T) {
	pub := &fakePublisher{}
	inv := &recordingInvalidator{}
	sink := NewObservationSink(pub, nil, stubMetrics{}, "kafka")
	sink.SetInvalidator(inv)

	if err := sink.Write(context.Background(), sampleObs("p1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.published))
	}
	// Nothing is readable yet; fanout belongs to the consumer side.
	if len(inv.ids) != 0 {
		t.Fatalf("publish-side fanout fired: %v", inv.ids)
	}
}

func TestConsumerHandlerFansOutAfterWrite(t *testing.T) {
	prices := repository.NewMemoryPriceStore()
	inv := &recordingInvalidator{}
	h := NewKafkaObservationsHandler("price.observations", prices, stubMetrics{})
	h.SetInvalidator(inv)

	payload, err := json.Marshal(sampleObs("p1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	n, err := prices.Count(context.Background(), "p1")
	if err != nil || n != 1 {
		t.Fatalf("stored count = %d (%v), want 1", n, err)
	}
	if len(inv.ids) != 1 || inv.ids[0] != "p1" {
		t.Fatalf("invalidated = %v, want [p1]", inv.ids)
	}
}
