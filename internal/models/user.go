package models

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type User struct {
	BaseModel
	Username          string             `json:"username" gorm:"type:varchar(100);uniqueIndex;not null"`
	PasswordHash      string             `json:"-" gorm:"type:text;not null"`
	Role              UserRole           `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Color             *string            `json:"color,omitempty" gorm:"type:varchar(20)"`
	GroupMemberships  []GroupMembership  `json:"-" gorm:"foreignKey:UserID"`
	PushSubscriptions []PushSubscription `json:"-" gorm:"foreignKey:UserID"`
}
