package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueueStatus is the delivery state of a queue item.
type QueueStatus string

// Queue statuses. Delivered and FailedPermanent are terminal.
const (
	StatusPending         QueueStatus = "pending"
	StatusDelivering      QueueStatus = "delivering"
	StatusDelivered       QueueStatus = "delivered"
	StatusFailedPermanent QueueStatus = "failed_permanent"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s QueueStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailedPermanent
}

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivering, StatusDelivered, StatusFailedPermanent:
		return true
	}
	return false
}

// QueueItem is one pending webhook delivery. URL and SecretToken are copied
// from the matching route at enqueue time, so later route edits do not
// affect deliveries already in flight.
type QueueItem struct {
	ID            string      `json:"id" gorm:"type:varchar(36);primaryKey"`
	RouteID       uint        `json:"route_id" gorm:"index"`
	URL           string      `json:"url" gorm:"type:varchar(2048);not null"`
	SecretToken   string      `json:"-" gorm:"type:varchar(255);not null"`
	Payload       string      `json:"payload" gorm:"type:text;not null"`
	Status        QueueStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_queue_processing,priority:1"`
	AttemptCount  int         `json:"attempt_count" gorm:"not null"`
	NextAttemptAt time.Time   `json:"next_attempt_at" gorm:"not null;index:idx_queue_processing,priority:2"`
	LastError     string      `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" gorm:"index"`
}

// TableName specifies the table name for QueueItem
func (QueueItem) TableName() string {
	return "webhook_queue"
}

// BeforeCreate assigns an ID and the initial pending state.
func (q *QueueItem) BeforeCreate(*gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = StatusPending
	}
	return nil
}
