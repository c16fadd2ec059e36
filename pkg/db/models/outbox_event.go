package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

// OutboxEvent is a domain event waiting for, or past, delivery to Pub/Sub.
// ID doubles as the event id inside the payload envelope.
//
// A row is pending while both PublishedAt and TerminalAt are nil. TerminalAt
// marks a row the publisher gave up on.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`

	AttemptCount  int        `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at"`
	LastError     *string    `gorm:"column:last_error"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	PublishedAt *time.Time `gorm:"column:published_at"`
	TerminalAt  *time.Time `gorm:"column:terminal_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Pending reports whether the publisher should still try the row.
func (e OutboxEvent) Pending() bool {
	return e.PublishedAt == nil && e.TerminalAt == nil
}
