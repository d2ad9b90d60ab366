package handlers

import (
	"errors"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/blacklist"
	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

// AdminHandler groups the service-wide admin operations: user management and
// the IP blacklist. All routes sit behind AdminOnly.
type AdminHandler struct {
	DB        *gorm.DB
	Blacklist *blacklist.List
}

func NewAdminHandler(db *gorm.DB, bl *blacklist.List) *AdminHandler {
	return &AdminHandler{DB: db, Blacklist: bl}
}

type banIPRequest struct {
	IPAddress string `json:"ipAddress"`
}

// ListUsers returns every account.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	var users []models.User
	if err := h.DB.Order("username ASC").Find(&users).Error; err != nil {
		logger.Error("Failed to list users", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list users")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

// DeleteUser removes an account along with its memberships and push
// subscriptions. Ratings keep the stored username for display.
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	userID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	if userID == admin.ID {
		return utils.Error(c, fiber.StatusBadRequest, "cannot delete your own account")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete user")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.GroupMembership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.PushSubscription{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		logger.ErrorWithUser(admin.ID.String(), "Failed to delete user", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete user")
	}

	logger.InfoWithUser(admin.ID.String(), "User deleted", map[string]interface{}{
		"deleted_user_id": userID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// ListBannedIPs returns the persisted blacklist.
func (h *AdminHandler) ListBannedIPs(c *fiber.Ctx) error {
	var banned []models.BlacklistedIP
	if err := h.DB.Order("ip_address ASC").Find(&banned).Error; err != nil {
		logger.Error("Failed to list banned IPs", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list banned IPs")
	}
	return utils.Success(c, fiber.StatusOK, banned)
}

// BanIP adds an address to the blacklist and refreshes the in-memory
// snapshot so the ban applies immediately instead of at the next tick.
func (h *AdminHandler) BanIP(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req banIPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	ip := strings.TrimSpace(req.IPAddress)
	if net.ParseIP(ip) == nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid IP address")
	}

	banned := models.BlacklistedIP{IPAddress: ip}
	if err := h.DB.Create(&banned).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "IP is already banned")
		}
		logger.ErrorWithUser(admin.ID.String(), "Failed to ban IP", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to ban IP")
	}

	if h.Blacklist != nil {
		if err := h.Blacklist.Refresh(); err != nil {
			logger.Warn("Blacklist refresh after ban failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	logger.InfoWithUser(admin.ID.String(), "IP banned", map[string]interface{}{"ip": ip})
	return utils.Success(c, fiber.StatusCreated, banned)
}

// UnbanIP removes an address from the blacklist.
func (h *AdminHandler) UnbanIP(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	ip := strings.TrimSpace(c.Params("ip"))

	result := h.DB.Where("ip_address = ?", ip).Delete(&models.BlacklistedIP{})
	if result.Error != nil {
		logger.ErrorWithUser(admin.ID.String(), "Failed to unban IP", result.Error, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to unban IP")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "IP is not banned")
	}

	if h.Blacklist != nil {
		if err := h.Blacklist.Refresh(); err != nil {
			logger.Warn("Blacklist refresh after unban failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	logger.InfoWithUser(admin.ID.String(), "IP unbanned", map[string]interface{}{"ip": ip})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}
