package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

type SubscriptionsHandler struct {
	DB             *gorm.DB
	VAPIDPublicKey string
}

func NewSubscriptionsHandler(db *gorm.DB, vapidPublicKey string) *SubscriptionsHandler {
	return &SubscriptionsHandler{DB: db, VAPIDPublicKey: vapidPublicKey}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Subscribe registers a browser push endpoint for the caller. Re-posting an
// existing endpoint refreshes its keys and owner.
func (h *SubscriptionsHandler) Subscribe(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		return utils.Error(c, fiber.StatusBadRequest, "endpoint and keys are required")
	}

	sub := models.PushSubscription{
		UserID:   user.ID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	err := h.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to save push subscription", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to save subscription")
	}

	logger.InfoWithUser(user.ID.String(), "Push subscription saved", nil)
	return utils.Success(c, fiber.StatusCreated, sub)
}

// Unsubscribe removes one of the caller's push endpoints.
func (h *SubscriptionsHandler) Unsubscribe(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req unsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "endpoint is required")
	}

	result := h.DB.Where("user_id = ? AND endpoint = ?", user.ID, req.Endpoint).
		Delete(&models.PushSubscription{})
	if result.Error != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to delete push subscription", result.Error, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete subscription")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "subscription not found")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// VAPIDKey exposes the server's public application key so browsers can
// subscribe. No auth: the key is not a secret and the frontend needs it
// before login completes.
func (h *SubscriptionsHandler) VAPIDKey(c *fiber.Ctx) error {
	if h.VAPIDPublicKey == "" {
		return utils.Error(c, fiber.StatusServiceUnavailable, "push notifications are not configured")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"publicKey": h.VAPIDPublicKey})
}
