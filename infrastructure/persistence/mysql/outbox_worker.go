package mysql

import (
	"context"
	"fmt"
	"time"

	"uow/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OutboxPublisher delivers one staged event to the outside world.
type OutboxPublisher interface {
	Publish(ctx context.Context, eventType, payload string) error
}

// LoggingOutboxPublisher is the development publisher: it only logs.
type LoggingOutboxPublisher struct{}

func (p *LoggingOutboxPublisher) Publish(ctx context.Context, eventType, payload string) error {
	logger.Info("Outbox event published",
		zap.String("event_type", eventType),
		zap.String("payload", payload),
	)
	return nil
}

// OutboxWorker drains the outbox table: it polls for pending events,
// claims them, and hands them to the publisher at a bounded rate.
type OutboxWorker struct {
	transport    *OutboxTransport
	publisher    OutboxPublisher
	limiter      *rate.Limiter
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

func NewOutboxWorker(
	transport *OutboxTransport,
	publisher OutboxPublisher,
	pollInterval time.Duration,
	batchSize int,
	maxRetries int,
	publishRate float64,
	publishBurst int,
) (*OutboxWorker, error) {
	if transport == nil {
		return nil, fmt.Errorf("outbox transport is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if maxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive")
	}
	if publishRate <= 0 {
		return nil, fmt.Errorf("publish rate must be positive")
	}
	if publishBurst <= 0 {
		publishBurst = 1
	}

	return &OutboxWorker{
		transport:    transport,
		publisher:    publisher,
		limiter:      rate.NewLimiter(rate.Limit(publishRate), publishBurst),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
	}, nil
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				logger.Error("Outbox batch processing failed", zap.Error(err))
			}
		}
	}
}

func (w *OutboxWorker) processBatch(ctx context.Context) error {
	events, err := w.transport.GetPendingEvents(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := w.transport.MarkEventProcessing(ctx, event.ID); err != nil {
			logger.Warn("Skip outbox event due to lock contention",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := w.publisher.Publish(ctx, event.EventType, event.Payload); err != nil {
			logger.Error("Outbox publish failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			if markErr := w.transport.MarkEventFailed(ctx, event.ID, w.maxRetries); markErr != nil {
				logger.Error("Failed to mark outbox event failed",
					zap.String("event_id", event.ID),
					zap.Error(markErr),
				)
			}
			continue
		}

		if err := w.transport.MarkEventPublished(ctx, event.ID); err != nil {
			logger.Error("Failed to mark outbox event published",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}
