package models

import "github.com/google/uuid"

// PushSubscription holds one browser push endpoint with its encryption keys.
// A browser may resubscribe at the same endpoint with fresh keys, so writes
// upsert on the endpoint. Rows are removed when delivery reports the endpoint
// permanently gone.
type PushSubscription struct {
	BaseModel
	UserID   uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	Endpoint string    `json:"endpoint" gorm:"type:text;not null;uniqueIndex"`
	P256dh   string    `json:"p256dh" gorm:"type:text;not null"`
	Auth     string    `json:"auth" gorm:"type:text;not null"`
	User     User      `json:"-" gorm:"foreignKey:UserID"`
}
