package predict

import (
	"context"
	"errors"
	"time"

	"PricePulse/internal/domain/models"

	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/queue"
)

// RetrainMessageType is the queue message type for retrain requests.
const RetrainMessageType = "predict.retrain"

// RetrainPayload identifies the product to refit.
type RetrainPayload struct {
	ProductID string `json:"product_id"`
}

// RetrainJob consumes retrain requests off the queue and runs the fit.
type RetrainJob struct {
	trainer *Trainer
	logger  *applogger.Logger
}

func NewRetrainJob(trainer *Trainer, logger *applogger.Logger) *RetrainJob {
	return &RetrainJob{trainer: trainer, logger: logger}
}

func (j *RetrainJob) Name() string { return "retrain-forecast" }
func (j *RetrainJob) Type() string { return RetrainMessageType }

func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetrainPayload](payload)
	if err != nil {
		return err
	}

	_, err = j.trainer.Train(ctx, p.ProductID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrInsufficientData):
		// not enough history yet; the next ingest will reschedule
		j.logger.Debug("retrain skipped, insufficient data",
			applogger.String("product_id", p.ProductID))
		return nil
	case errors.Is(err, ErrFitInProgress):
		return nil
	default:
		return err
	}
}

var _ queue.Job = (*RetrainJob)(nil)

// Scheduler feeds the retrain queue: on demand after ingest writes, and on a
// periodic sweep over products the trainer already tracks.
type Scheduler struct {
	q       queue.QueueService
	trainer *Trainer
	logger  *applogger.Logger
}

func NewScheduler(q queue.QueueService, trainer *Trainer, logger *applogger.Logger) *Scheduler {
	return &Scheduler{q: q, trainer: trainer, logger: logger}
}

// Schedule enqueues a retrain for each product that needs one. Best-effort:
// a full queue or broken connection only logs.
func (s *Scheduler) Schedule(ctx context.Context, productIDs ...string) {
	for _, id := range productIDs {
		if !s.trainer.NeedsRetrain(ctx, id) {
			continue
		}
		if err := s.q.PublishMessage(ctx, RetrainMessageType, RetrainPayload{ProductID: id}); err != nil {
			s.logger.Warn("retrain enqueue failed",
				applogger.String("product_id", id),
				applogger.Error(err),
			)
		}
	}
}

// Run sweeps tracked products on the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Schedule(ctx, s.trainer.TrackedProducts()...)
		}
	}
}
