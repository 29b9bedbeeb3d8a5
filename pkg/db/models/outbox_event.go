package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/jem-cart/pkg/enums"
)

// OutboxEvent is one queued cart event. Rows are appended in the same
// transaction as the cart write and drained by the outbox publisher.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	// AggregateID is the cart owner.
	AggregateID  string         `gorm:"column:aggregate_id;type:text;not null;index"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	PublishedAt  *time.Time     `gorm:"column:published_at"`
	FailedAt     *time.Time     `gorm:"column:failed_at"`
	AttemptCount int            `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string        `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Pending reports whether the publisher will still pick the row up.
func (e OutboxEvent) Pending() bool {
	return e.PublishedAt == nil && e.FailedAt == nil
}
