package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/period"
)

// Rating is the one mutable fact per (group, restaurant, user) within a
// quarter. Re-rating inside the same quarter updates the row in place; the
// first rating of a new quarter starts a fresh row, and the old ones feed the
// historical per-period averages. Uniqueness within the quarter is enforced by
// the submit flow's create-vs-update routing, not by a constraint.
// Period and Year are derived from UpdatedAt, never stored.
type Rating struct {
	BaseModel
	GroupID      uuid.UUID     `json:"groupID" gorm:"type:uuid;not null;index:idx_rating_scope"`
	RestaurantID string        `json:"restaurantID" gorm:"type:varchar(100);not null;index:idx_rating_scope"`
	UserID       uuid.UUID     `json:"userID" gorm:"type:uuid;not null;index:idx_rating_scope"`
	Username     string        `json:"username" gorm:"type:varchar(100);not null"`
	Score        float64       `json:"score" gorm:"not null"`
	Color        *string       `json:"color,omitempty" gorm:"type:varchar(20)"`
	Period       period.Period `json:"period" gorm:"-"`
	Year         int           `json:"year" gorm:"-"`
}

func (r *Rating) AfterFind(tx *gorm.DB) error {
	r.derivePeriod()
	return nil
}

func (r *Rating) AfterSave(tx *gorm.DB) error {
	r.derivePeriod()
	return nil
}

func (r *Rating) derivePeriod() {
	r.Period = period.Of(r.UpdatedAt.UTC())
	r.Year = r.UpdatedAt.UTC().Year()
}
