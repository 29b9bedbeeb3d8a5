package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/jem-cart/pkg/config"
	"github.com/angelmondragon/jem-cart/pkg/db/models"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	"github.com/angelmondragon/jem-cart/pkg/outbox"
)

const (
	defaultBatchSize      = 50
	defaultPoll           = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	ClaimBatch(tx *gorm.DB, limit int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error, terminal bool) error
	CountPending(ctx context.Context) (int64, error)
}

type outboxRecorder interface {
	ObserveBatch(time.Duration)
	IncPublished()
	IncFailed(terminal bool)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pinger
	Repository outboxRepository
	Publisher  publisher
	Metrics    outboxRecorder
}

// Service drains outbox_events onto the cart topic.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pinger
	repo         outboxRepository
	publisher    publisher
	metrics      outboxRecorder
	topic        string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Publisher == nil:
		return nil, errors.New("publisher is required")
	}

	cfg := params.Config.Outbox
	svc := &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		repo:         params.Repository,
		publisher:    params.Publisher,
		metrics:      params.Metrics,
		topic:        params.Config.PubSub.CartTopic,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(cfg.PollIntervalMS, int(defaultPoll/time.Millisecond))) * time.Millisecond,
	}
	if svc.metrics == nil {
		svc.metrics = noopRecorder{}
	}
	return svc, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is cancelled. Idle polls sleep for the poll interval;
// consecutive failing batches back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{{"database", s.db.Ping}, {"pubsub", s.pubsub.Ping}} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", dep.name), "outbox.ping_failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	if pending, err := s.repo.CountPending(ctx); err == nil {
		s.logg.Info(s.logg.WithField(ctx, "pending", pending), "outbox.backlog")
	}

	var backoff retry.Backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			if backoff == nil {
				backoff = failureBackoff(s.pollInterval)
			}
			wait, _ = backoff.Next()
		case processed:
			backoff = nil
			continue
		default:
			backoff = nil
			wait = s.pollInterval
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// failureBackoff doubles from base up to maxBackoff, plus or minus jitterWindow.
func failureBackoff(base time.Duration) retry.Backoff {
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxBackoff, b)
	return retry.WithJitter(jitterWindow, b)
}

// processBatch claims rows inside one transaction and records each row's
// outcome before commit. One bad row never aborts the batch.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	start := time.Now()
	var claimed int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.ClaimBatch(tx, s.batchSize)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			if err := s.deliver(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if claimed > 0 {
		s.metrics.ObserveBatch(time.Since(start))
	}
	return claimed > 0, err
}

// deliver publishes one row and records the outcome. Only bookkeeping errors
// are returned.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID,
		"attempt_count": event.AttemptCount,
		"topic":         s.topic,
	})

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return s.recordFailure(ctx, tx, event, err, true)
	}
	ctx = s.logg.WithField(ctx, "event_id", envelope.EventID)

	if err := s.publish(ctx, event, envelope); err != nil {
		if event.AttemptCount+1 >= s.maxAttempts {
			return s.recordFailure(ctx, tx, event, fmt.Errorf("max publish attempts reached: %w", err), true)
		}
		return s.recordFailure(ctx, tx, event, err, false)
	}

	if err := s.repo.MarkPublished(tx, event.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	s.metrics.IncPublished()
	s.logg.Info(ctx, "outbox.published")
	return nil
}

func (s *Service) recordFailure(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error, terminal bool) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"error": cause.Error(), "terminal": terminal})
	if terminal {
		s.logg.Warn(ctx, "outbox.parked")
	} else {
		s.logg.Warn(ctx, "outbox.publish_failed")
	}

	if err := s.repo.RecordFailure(tx, event.ID, cause, terminal); err != nil {
		return fmt.Errorf("record failure %s: %w", event.ID, err)
	}
	s.metrics.IncFailed(terminal)
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := s.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: envelope.Attributes(event),
	})
	if result == nil {
		return fmt.Errorf("publisher returned nil for topic %s", s.topic)
	}
	_, err := result.Get(publishCtx)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type noopRecorder struct{}

func (noopRecorder) ObserveBatch(time.Duration) {}
func (noopRecorder) IncPublished()              {}
func (noopRecorder) IncFailed(bool)             {}

// gcpPublisher adapts *pubsub.Publisher so tests can swap in a fake.
type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{pub: p}
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.pub.Publish(ctx, msg)
}
