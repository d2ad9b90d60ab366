package services

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/internal/period"
)

// RatingService owns all reads and writes of rating rows. Every
// read-then-write runs inside one transaction so membership revocation racing
// a rating write is serialized by the store, not by application code.
type RatingService struct {
	DB *gorm.DB
}

func NewRatingService(db *gorm.DB) *RatingService {
	return &RatingService{DB: db}
}

type NewRating struct {
	RestaurantID string
	UserID       uuid.UUID
	Username     string
	Score        float64
	Color        *string
}

// PeriodAverage is one historical bucket: the mean score a restaurant
// received during one quarter. Computed on read, never persisted.
type PeriodAverage struct {
	RestaurantID string        `json:"restaurantID"`
	Year         int           `json:"year"`
	Period       period.Period `json:"period"`
	AverageScore float64       `json:"averageScore"`
}

// RatingHistory pairs full current-quarter rows with aggregated past
// quarters.
type RatingHistory struct {
	CurrentPeriodRatings []models.Rating `json:"currentPeriodRatings"`
	HistoricalRatings    []PeriodAverage `json:"historicalRatings"`
}

func membershipExists(tx *gorm.DB, groupID, userID uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&models.GroupMembership{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

// Create inserts a fresh rating row. Membership is re-validated inside the
// same transaction as the insert. Create does not guard against an existing
// current-quarter row; the submit flow routes re-rates to Update first.
func (s *RatingService) Create(groupID uuid.UUID, nr NewRating) (*models.Rating, error) {
	rating := &models.Rating{
		GroupID:      groupID,
		RestaurantID: nr.RestaurantID,
		UserID:       nr.UserID,
		Username:     nr.Username,
		Score:        nr.Score,
		Color:        nr.Color,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ok, err := membershipExists(tx, groupID, nr.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAMember
		}
		return tx.Create(rating).Error
	})
	if err != nil {
		return nil, err
	}

	return rating, nil
}

// Update rewrites score, username snapshot and color of the caller's rating,
// scoped to the current quarter: a row created in an earlier quarter is never
// touched, and ErrNotFound tells the submit flow to start a fresh row
// instead.
func (s *RatingService) Update(groupID uuid.UUID, nr NewRating, info period.Info) (*models.Rating, error) {
	var updated models.Rating

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ok, err := membershipExists(tx, groupID, nr.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAMember
		}

		scope := tx.Model(&models.Rating{}).
			Where("group_id = ? AND user_id = ? AND restaurant_id = ?", groupID, nr.UserID, nr.RestaurantID).
			Where("created_at >= ? AND created_at < ?", info.Range.Start, info.Range.End)

		result := scope.Updates(map[string]interface{}{
			"score":      nr.Score,
			"username":   nr.Username,
			"color":      nr.Color,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return tx.
			Where("group_id = ? AND user_id = ? AND restaurant_id = ?", groupID, nr.UserID, nr.RestaurantID).
			Where("created_at >= ? AND created_at < ?", info.Range.Start, info.Range.End).
			First(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// IsRatedByUser reports whether the user has ever rated the restaurant in
// this group, in any quarter. The submit flow uses it to choose create vs
// update; Update then narrows to the current quarter.
func (s *RatingService) IsRatedByUser(restaurantID string, userID, groupID uuid.UUID) (bool, error) {
	var count int64
	err := s.DB.Model(&models.Rating{}).
		Where("restaurant_id = ? AND user_id = ? AND group_id = ?", restaurantID, userID, groupID).
		Count(&count).Error
	return count > 0, err
}

// Delete removes the caller's rating row and returns how many rows matched.
// Zero is not an error here; the handler decides what to surface.
func (s *RatingService) Delete(id uuid.UUID, userID, groupID uuid.UUID) (int64, error) {
	result := s.DB.
		Where("id = ? AND user_id = ? AND group_id = ?", id, userID, groupID).
		Delete(&models.Rating{})
	return result.RowsAffected, result.Error
}

func (s *RatingService) RatingsByUser(userID uuid.UUID, info period.Info) (*RatingHistory, error) {
	var all []models.Rating
	if err := s.DB.
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&all).Error; err != nil {
		return nil, err
	}
	return splitHistory(all, info), nil
}

func (s *RatingService) RatingsByUserAndGroup(userID, groupID uuid.UUID, info period.Info) (*RatingHistory, error) {
	var all []models.Rating
	if err := s.DB.
		Where("user_id = ? AND group_id = ?", userID, groupID).
		Order("created_at ASC").
		Find(&all).Error; err != nil {
		return nil, err
	}
	return splitHistory(all, info), nil
}

func (s *RatingService) RatingsByRestaurant(groupID uuid.UUID, restaurantID string, info period.Info) (*RatingHistory, error) {
	var all []models.Rating
	if err := s.DB.
		Where("group_id = ? AND restaurant_id = ?", groupID, restaurantID).
		Order("created_at ASC").
		Find(&all).Error; err != nil {
		return nil, err
	}
	return splitHistory(all, info), nil
}

// RatingsByRestaurantPerPeriod returns the raw rows of one quarter, for
// drill-down and for the completion check's test fixtures.
func (s *RatingService) RatingsByRestaurantPerPeriod(groupID uuid.UUID, restaurantID string, year int, p period.Period) ([]models.Rating, error) {
	r, err := period.DateRange(p, year)
	if err != nil {
		return nil, err
	}

	var ratings []models.Rating
	if err := s.DB.
		Where("group_id = ? AND restaurant_id = ?", groupID, restaurantID).
		Where("created_at >= ? AND created_at < ?", r.Start, r.End).
		Order("created_at ASC").
		Find(&ratings).Error; err != nil {
		return nil, err
	}
	return ratings, nil
}

// splitHistory partitions rows into current-quarter detail and per-quarter
// averages of everything older. Aggregation happens here rather than in SQL
// so the same code runs against postgres and the in-memory sqlite used in
// tests.
func splitHistory(all []models.Rating, info period.Info) *RatingHistory {
	history := &RatingHistory{
		CurrentPeriodRatings: []models.Rating{},
		HistoricalRatings:    []PeriodAverage{},
	}

	type bucket struct {
		sum   float64
		count int
	}
	type key struct {
		restaurantID string
		year         int
		period       period.Period
	}
	buckets := map[key]*bucket{}

	for _, r := range all {
		if info.Range.Contains(r.CreatedAt) {
			history.CurrentPeriodRatings = append(history.CurrentPeriodRatings, r)
			continue
		}
		k := key{
			restaurantID: r.RestaurantID,
			year:         r.CreatedAt.UTC().Year(),
			period:       period.Of(r.CreatedAt.UTC()),
		}
		b := buckets[k]
		if b == nil {
			b = &bucket{}
			buckets[k] = b
		}
		b.sum += r.Score
		b.count++
	}

	for k, b := range buckets {
		history.HistoricalRatings = append(history.HistoricalRatings, PeriodAverage{
			RestaurantID: k.restaurantID,
			Year:         k.year,
			Period:       k.period,
			AverageScore: b.sum / float64(b.count),
		})
	}

	sort.Slice(history.HistoricalRatings, func(i, j int) bool {
		a, b := history.HistoricalRatings[i], history.HistoricalRatings[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		return a.RestaurantID < b.RestaurantID
	})

	return history
}

// RestaurantRating is one row of the group leaderboard.
type RestaurantRating struct {
	Restaurant   models.Restaurant `json:"restaurant"`
	AverageScore float64           `json:"averageScore"`
	RatingsCount int               `json:"ratingsCount"`
}

// RestaurantsWithAvgRating ranks every restaurant by its current-quarter
// average within the group. Partial rounds keep their real partial average;
// only restaurants nobody rated this quarter drop to the bottom with zero.
// Order: rated restaurants by average descending, ties and the unrated tail
// by restaurant id ascending.
func (s *RatingService) RestaurantsWithAvgRating(groupID uuid.UUID, info period.Info) ([]RestaurantRating, error) {
	var restaurants []models.Restaurant
	if err := s.DB.Preload("Menu").Order("id ASC").Find(&restaurants).Error; err != nil {
		return nil, err
	}

	var ratings []models.Rating
	if err := s.DB.
		Where("group_id = ?", groupID).
		Where("created_at >= ? AND created_at < ?", info.Range.Start, info.Range.End).
		Find(&ratings).Error; err != nil {
		return nil, err
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range ratings {
		sums[r.RestaurantID] += r.Score
		counts[r.RestaurantID]++
	}

	results := make([]RestaurantRating, 0, len(restaurants))
	for _, restaurant := range restaurants {
		entry := RestaurantRating{Restaurant: restaurant}
		if n := counts[restaurant.ID]; n > 0 {
			entry.AverageScore = sums[restaurant.ID] / float64(n)
			entry.RatingsCount = n
		}
		results = append(results, entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.RatingsCount > 0) != (b.RatingsCount > 0) {
			return a.RatingsCount > 0
		}
		if a.RatingsCount == 0 {
			return a.Restaurant.ID < b.Restaurant.ID
		}
		if a.AverageScore != b.AverageScore {
			return a.AverageScore > b.AverageScore
		}
		return a.Restaurant.ID < b.Restaurant.ID
	})

	return results, nil
}
