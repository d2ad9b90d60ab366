package services

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/internal/period"
)

// CompletionService decides whether a group's rating round for a restaurant
// is complete in the current quarter.
type CompletionService struct {
	DB *gorm.DB
}

func NewCompletionService(db *gorm.DB) *CompletionService {
	return &CompletionService{DB: db}
}

// IsComplete compares the group's member count to the number of distinct
// raters of the restaurant within the quarter, inside one transaction so the
// two counts come from a single snapshot.
//
// This is a count comparison, not set equality against current member
// identity: a member who left mid-quarter after rating still counts on the
// rating side while the membership side only sees current members. Accepted
// approximation; an exact set comparison would change observable behavior.
//
// Completion is per quarter. A round complete in Q1 reads as incomplete again
// in Q2 because the rating count naturally drops back to zero.
func (s *CompletionService) IsComplete(groupID uuid.UUID, restaurantID string, info period.Info) (bool, error) {
	var complete bool

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var members int64
		if err := tx.Model(&models.GroupMembership{}).
			Where("group_id = ?", groupID).
			Count(&members).Error; err != nil {
			return err
		}

		var raters int64
		if err := tx.Model(&models.Rating{}).
			Distinct("user_id").
			Where("group_id = ? AND restaurant_id = ?", groupID, restaurantID).
			Where("created_at >= ? AND created_at < ?", info.Range.Start, info.Range.End).
			Count(&raters).Error; err != nil {
			return err
		}

		complete = members > 0 && members == raters
		return nil
	})
	if err != nil {
		return false, err
	}

	return complete, nil
}
