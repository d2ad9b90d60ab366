package models

import "time"

// BlacklistedIP rows are loaded into the in-memory snapshot on an interval;
// see internal/blacklist.
type BlacklistedIP struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	IPAddress string    `json:"ipAddress" gorm:"type:varchar(45);uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt"`
}
