package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/internal/period"
	"github.com/tavolo/backend/internal/services"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

type RatingsHandler struct {
	DB            *gorm.DB
	Ratings       *services.RatingService
	Completion    *services.CompletionService
	Notifications *services.NotificationService
}

func NewRatingsHandler(db *gorm.DB, ratings *services.RatingService, completion *services.CompletionService, notifications *services.NotificationService) *RatingsHandler {
	return &RatingsHandler{
		DB:            db,
		Ratings:       ratings,
		Completion:    completion,
		Notifications: notifications,
	}
}

type submitRatingRequest struct {
	RestaurantID string  `json:"restaurantID"`
	Score        float64 `json:"score"`
}

// Submit records or revises the caller's rating for a restaurant in the
// current quarter. A rating from an earlier quarter is left alone and a new
// row is written instead. When the rating completes the group for this
// restaurant, a push notification goes out once per quarter.
func (h *RatingsHandler) Submit(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req submitRatingRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.RestaurantID = strings.TrimSpace(req.RestaurantID)
	if req.RestaurantID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "restaurant id is required")
	}
	if req.Score < 0 || req.Score > 10 {
		return utils.Error(c, fiber.StatusBadRequest, "score must be between 0 and 10")
	}

	var restaurant models.Restaurant
	if err := h.DB.First(&restaurant, "id = ?", req.RestaurantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to submit rating")
	}

	info := period.Current(time.Now().UTC())
	nr := services.NewRating{
		RestaurantID: restaurant.ID,
		UserID:       user.ID,
		Username:     user.Username,
		Score:        req.Score,
		Color:        user.Color,
	}

	rated, err := h.Ratings.IsRatedByUser(restaurant.ID, user.ID, groupID)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to check existing rating", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to submit rating")
	}

	var rating *models.Rating
	status := fiber.StatusCreated
	if rated {
		rating, err = h.Ratings.Update(groupID, nr, info)
		if errors.Is(err, services.ErrNotFound) {
			// Only rows from earlier quarters exist; this quarter starts fresh.
			rating, err = h.Ratings.Create(groupID, nr)
		} else if err == nil {
			status = fiber.StatusOK
		}
	} else {
		rating, err = h.Ratings.Create(groupID, nr)
	}
	if err != nil {
		if errors.Is(err, services.ErrNotAMember) {
			return utils.Error(c, fiber.StatusForbidden, "not a member of this group")
		}
		logger.ErrorWithUser(user.ID.String(), "Failed to submit rating", err, map[string]interface{}{
			"group_id":      groupID.String(),
			"restaurant_id": restaurant.ID,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to submit rating")
	}

	logger.InfoWithUser(user.ID.String(), "Rating submitted", map[string]interface{}{
		"group_id":      groupID.String(),
		"restaurant_id": restaurant.ID,
		"score":         req.Score,
	})

	h.notifyIfComplete(groupID, restaurant.ID, info)

	return utils.Success(c, status, rating)
}

// notifyIfComplete checks whether every member has now rated the restaurant
// this quarter and, if so, records the notification and dispatches the push
// fan-out in the background. The ledger's unique index makes the record step
// first-writer-wins, so concurrent completing submits dispatch once.
func (h *RatingsHandler) notifyIfComplete(groupID uuid.UUID, restaurantID string, info period.Info) {
	complete, err := h.Completion.IsComplete(groupID, restaurantID, info)
	if err != nil {
		logger.Error("Failed to check rating completion", err, map[string]interface{}{
			"group_id":      groupID.String(),
			"restaurant_id": restaurantID,
		})
		return
	}
	if !complete {
		return
	}

	sent, err := h.Notifications.AlreadySent(groupID, restaurantID, info)
	if err != nil {
		logger.Error("Failed to check notification ledger", err, nil)
		return
	}
	if sent {
		return
	}

	if err := h.Notifications.Record(groupID, restaurantID, info); err != nil {
		if !errors.Is(err, services.ErrAlreadyExists) {
			logger.Error("Failed to record notification", err, map[string]interface{}{
				"group_id":      groupID.String(),
				"restaurant_id": restaurantID,
			})
		}
		return
	}

	var group models.Group
	if err := h.DB.First(&group, "id = ?", groupID).Error; err != nil {
		logger.Error("Failed to load group for notification", err, nil)
		return
	}

	message := fmt.Sprintf("Everyone has rated %s this quarter!", restaurantID)
	go h.Notifications.Dispatch(context.Background(), groupID, group.Name, message)
}

// MyRatings returns the caller's ratings across all groups, split into the
// current quarter and historical buckets.
func (h *RatingsHandler) MyRatings(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	info := period.Current(time.Now().UTC())
	history, err := h.Ratings.RatingsByUser(user.ID, info)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to load ratings", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load ratings")
	}
	return utils.Success(c, fiber.StatusOK, history)
}

// MemberRatings returns one member's ratings within a group. Members only.
func (h *RatingsHandler) MemberRatings(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	memberID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if err := h.requireMembership(groupID, user.ID); err != nil {
		return h.membershipError(c, err)
	}

	info := period.Current(time.Now().UTC())
	history, err := h.Ratings.RatingsByUserAndGroup(memberID, groupID, info)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to load member ratings", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load ratings")
	}
	return utils.Success(c, fiber.StatusOK, history)
}

// RestaurantRatings returns all of a group's ratings for one restaurant,
// current quarter plus per-quarter historical averages.
func (h *RatingsHandler) RestaurantRatings(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	restaurantID := c.Params("restaurantId")

	if err := h.requireMembership(groupID, user.ID); err != nil {
		return h.membershipError(c, err)
	}

	info := period.Current(time.Now().UTC())
	history, err := h.Ratings.RatingsByRestaurant(groupID, restaurantID, info)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to load restaurant ratings", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load ratings")
	}
	return utils.Success(c, fiber.StatusOK, history)
}

// RestaurantRatingsPerPeriod returns the raw ratings a restaurant received
// in one specific quarter.
func (h *RatingsHandler) RestaurantRatingsPerPeriod(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	restaurantID := c.Params("restaurantId")

	year, err := strconv.Atoi(c.Params("year"))
	if err != nil || year < 2000 || year > 3000 {
		return utils.Error(c, fiber.StatusBadRequest, "invalid year")
	}
	p, err := period.Parse(c.Params("period"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid period")
	}

	if err := h.requireMembership(groupID, user.ID); err != nil {
		return h.membershipError(c, err)
	}

	ratings, err := h.Ratings.RatingsByRestaurantPerPeriod(groupID, restaurantID, year, p)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to load period ratings", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load ratings")
	}
	return utils.Success(c, fiber.StatusOK, ratings)
}

// Complete reports whether every current member has rated the restaurant
// this quarter.
func (h *RatingsHandler) Complete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	restaurantID := c.Params("restaurantId")

	if err := h.requireMembership(groupID, user.ID); err != nil {
		return h.membershipError(c, err)
	}

	info := period.Current(time.Now().UTC())
	complete, err := h.Completion.IsComplete(groupID, restaurantID, info)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to check completion", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to check completion")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"complete": complete})
}

// Delete removes one of the caller's own ratings.
func (h *RatingsHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	ratingID, err := parseUUID(c.Params("ratingId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid rating id")
	}

	affected, err := h.Ratings.Delete(ratingID, user.ID, groupID)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to delete rating", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete rating")
	}
	if affected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "rating not found")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

var errNotMember = errors.New("not a member")

func (h *RatingsHandler) requireMembership(groupID, userID uuid.UUID) error {
	var count int64
	err := h.DB.Model(&models.GroupMembership{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return errNotMember
	}
	return nil
}

func (h *RatingsHandler) membershipError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errNotMember) {
		return utils.Error(c, fiber.StatusForbidden, "not a member of this group")
	}
	logger.Error("Failed to check membership", err, nil)
	return utils.Error(c, fiber.StatusInternalServerError, "failed to check membership")
}
