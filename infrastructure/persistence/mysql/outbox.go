package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"uow/coordinator"
	"uow/infrastructure/persistence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboxEvent is the persistence row of the transactional outbox.
// Events staged through the transport land here inside the ambient
// transaction; the relay worker publishes them asynchronously.
type OutboxEvent struct {
	ID          string    `gorm:"primaryKey;size:64"`
	AggregateID string    `gorm:"size:64;index;not null"`
	EventType   string    `gorm:"size:100;index;not null"`
	Payload     string    `gorm:"type:json;not null"`
	Status      string    `gorm:"size:20;default:PENDING;not null"`
	RetryCount  int       `gorm:"default:0;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusPublished  EventStatus = "PUBLISHED"
	EventStatusFailed     EventStatus = "FAILED"
)

// OutboxTransport is an event transport that stages events into the
// outbox table instead of publishing them inline. Rows are created in
// the transaction from context, so they commit or roll back together
// with the business writes.
type OutboxTransport struct {
	db *gorm.DB
}

func NewOutboxTransport(db *gorm.DB) *OutboxTransport {
	return &OutboxTransport{db: db}
}

func (t *OutboxTransport) getDB(ctx context.Context) *gorm.DB {
	if tx := persistence.TxFromContext(ctx); tx != nil {
		return tx
	}
	return t.db.WithContext(ctx)
}

func (t *OutboxTransport) Publish(ctx context.Context, event coordinator.Event) error {
	row, err := fromEvent(event)
	if err != nil {
		return fmt.Errorf("failed to convert event: %w", err)
	}
	if err := t.getDB(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to stage event %s in outbox: %w", event.EventName(), err)
	}
	return nil
}

func fromEvent(event coordinator.Event) (*OutboxEvent, error) {
	data := map[string]any{
		"event_name":   event.EventName(),
		"aggregate_id": event.AggregateID(),
		"occurred_on":  event.OccurredOn(),
	}
	if carrier, ok := event.(interface{ EventData() any }); ok {
		data["data"] = carrier.EventData()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		ID:          uuid.New().String(),
		AggregateID: event.AggregateID(),
		EventType:   event.EventName(),
		Payload:     string(payload),
		Status:      string(EventStatusPending),
	}, nil
}

// GetPendingEvents returns the oldest pending events, up to limit.
func (t *OutboxTransport) GetPendingEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	var events []*OutboxEvent
	err := t.getDB(ctx).
		Where("status = ?", string(EventStatusPending)).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

// MarkEventProcessing claims an event so concurrent workers skip it.
func (t *OutboxTransport) MarkEventProcessing(ctx context.Context, eventID string) error {
	result := t.getDB(ctx).Model(&OutboxEvent{}).
		Where("id = ? AND status = ?", eventID, string(EventStatusPending)).
		Updates(map[string]any{
			"status":     string(EventStatusProcessing),
			"updated_at": gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("event not found or already being processed: %s", eventID)
	}
	return nil
}

func (t *OutboxTransport) MarkEventPublished(ctx context.Context, eventID string) error {
	result := t.getDB(ctx).Model(&OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"status":     string(EventStatusPublished),
			"updated_at": gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("event not found: %s", eventID)
	}
	return nil
}

// MarkEventFailed increments the retry count; the event goes back to
// pending until maxRetries is exhausted.
func (t *OutboxTransport) MarkEventFailed(ctx context.Context, eventID string, maxRetries int) error {
	db := t.getDB(ctx)

	var event OutboxEvent
	if err := db.First(&event, "id = ?", eventID).Error; err != nil {
		return fmt.Errorf("failed to find event: %w", err)
	}

	newRetryCount := event.RetryCount + 1
	newStatus := string(EventStatusFailed)
	if newRetryCount < maxRetries {
		newStatus = string(EventStatusPending)
	}

	result := db.Model(&OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"status":      newStatus,
			"retry_count": newRetryCount,
			"updated_at":  gorm.Expr("NOW()"),
		})
	return result.Error
}

var _ coordinator.EventTransport = (*OutboxTransport)(nil)
