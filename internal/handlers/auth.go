package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

type AuthHandler struct {
	DB *gorm.DB
}

func NewAuthHandler(db *gorm.DB) *AuthHandler {
	return &AuthHandler{DB: db}
}

type registerRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Color    *string `json:"color"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a new account with the regular user role.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 {
		return utils.Error(c, fiber.StatusBadRequest, "username must be at least 3 characters")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		logger.Error("Failed to hash password", err, map[string]interface{}{"username": req.Username})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to create user")
	}

	user := models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         models.UserRoleUser,
		Color:        req.Color,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "username already taken")
		}
		logger.Error("Failed to create user", err, map[string]interface{}{"username": req.Username})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to create user")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		logger.Error("Failed to generate token", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate token")
	}

	logger.Info("User registered", map[string]interface{}{
		"user_id":  user.ID.String(),
		"username": user.Username,
	})
	return utils.Success(c, fiber.StatusCreated, authResponse{Token: token, User: &user})
}

// Login verifies credentials and issues a JWT.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var user models.User
	if err := h.DB.Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		logger.Error("Failed to look up user", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "login failed")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.Warn("Failed login attempt", map[string]interface{}{
			"username": req.Username,
			"ip":       c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		logger.Error("Failed to generate token", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "login failed")
	}

	logger.InfoWithUser(user.ID.String(), "User logged in", map[string]interface{}{"username": user.Username})
	return utils.Success(c, fiber.StatusOK, authResponse{Token: token, User: &user})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}
