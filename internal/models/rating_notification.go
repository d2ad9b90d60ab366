package models

import (
	"time"

	"github.com/google/uuid"
)

// RatingNotification is the dedup ledger: one row means "a completion
// notification went out for this restaurant and group during the quarter
// containing NotifiedAt". PeriodKey ("YYYY-Qn") is stamped at insert so the
// unique index closes the check-then-insert race between two near-simultaneous
// completing submits; lookups still range-query NotifiedAt.
// It does not use BaseModel because ledger rows are never updated.
type RatingNotification struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RestaurantID string    `json:"restaurantID" gorm:"type:varchar(100);not null;index;uniqueIndex:idx_notification_period"`
	GroupID      uuid.UUID `json:"groupID" gorm:"type:uuid;not null;index;uniqueIndex:idx_notification_period"`
	PeriodKey    string    `json:"periodKey" gorm:"type:varchar(10);not null;uniqueIndex:idx_notification_period"`
	NotifiedAt   time.Time `json:"notifiedAt" gorm:"not null;index"`
}
