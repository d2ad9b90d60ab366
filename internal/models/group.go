package models

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Group struct {
	BaseModel
	Name        string            `json:"name" gorm:"type:varchar(150);not null"`
	Description *string           `json:"description,omitempty" gorm:"type:text"`
	JoinCode    string            `json:"joinCode" gorm:"type:varchar(12);uniqueIndex;not null"`
	CreatedByID uuid.UUID         `json:"createdByID" gorm:"type:uuid;not null;index"`
	CreatedBy   User              `json:"createdBy,omitempty" gorm:"foreignKey:CreatedByID"`
	Memberships []GroupMembership `json:"memberships,omitempty" gorm:"foreignKey:GroupID"`
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if err := g.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if g.JoinCode == "" {
		g.JoinCode = NewJoinCode()
	}
	return nil
}

// NewJoinCode returns an 8-character invite code. Uniqueness is enforced by
// the index; a collision fails the insert and the caller retries.
func NewJoinCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:8])
}
