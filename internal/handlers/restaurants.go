package handlers

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/internal/period"
	"github.com/tavolo/backend/internal/services"
	"github.com/tavolo/backend/internal/storage"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

var restaurantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,98}$`)

type RestaurantsHandler struct {
	DB      *gorm.DB
	Storage *storage.MinIOClient
	Ratings *services.RatingService
}

func NewRestaurantsHandler(db *gorm.DB, store *storage.MinIOClient, ratings *services.RatingService) *RestaurantsHandler {
	return &RestaurantsHandler{DB: db, Storage: store, Ratings: ratings}
}

type createRestaurantRequest struct {
	ID      string `json:"id"`
	Cuisine string `json:"cuisine"`
}

type updateRestaurantRequest struct {
	Cuisine *string `json:"cuisine"`
}

type menuItemRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Create registers a restaurant under a caller-supplied slug.
func (h *RestaurantsHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createRestaurantRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.ID = strings.ToLower(strings.TrimSpace(req.ID))
	req.Cuisine = strings.TrimSpace(req.Cuisine)
	if !restaurantIDPattern.MatchString(req.ID) {
		return utils.Error(c, fiber.StatusBadRequest, "restaurant id must be a lowercase slug")
	}
	if req.Cuisine == "" {
		return utils.Error(c, fiber.StatusBadRequest, "cuisine is required")
	}

	restaurant := models.Restaurant{ID: req.ID, Cuisine: req.Cuisine}
	if err := h.DB.Create(&restaurant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "restaurant already exists")
		}
		logger.ErrorWithUser(user.ID.String(), "Failed to create restaurant", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to create restaurant")
	}

	logger.InfoWithUser(user.ID.String(), "Restaurant created", map[string]interface{}{
		"restaurant_id": restaurant.ID,
	})
	return utils.Success(c, fiber.StatusCreated, restaurant)
}

// List returns every restaurant with its menu.
func (h *RestaurantsHandler) List(c *fiber.Ctx) error {
	var restaurants []models.Restaurant
	if err := h.DB.Preload("Menu").Order("id ASC").Find(&restaurants).Error; err != nil {
		logger.Error("Failed to list restaurants", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list restaurants")
	}
	return utils.Success(c, fiber.StatusOK, restaurants)
}

func (h *RestaurantsHandler) Get(c *fiber.Ctx) error {
	id := c.Params("restaurantId")
	var restaurant models.Restaurant
	if err := h.DB.Preload("Menu").First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		logger.Error("Failed to load restaurant", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load restaurant")
	}
	return utils.Success(c, fiber.StatusOK, restaurant)
}

func (h *RestaurantsHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	id := c.Params("restaurantId")

	var req updateRestaurantRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Cuisine == nil || strings.TrimSpace(*req.Cuisine) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "cuisine is required")
	}

	result := h.DB.Model(&models.Restaurant{}).Where("id = ?", id).
		Update("cuisine", strings.TrimSpace(*req.Cuisine))
	if result.Error != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to update restaurant", result.Error, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update restaurant")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
	}

	var restaurant models.Restaurant
	if err := h.DB.Preload("Menu").First(&restaurant, "id = ?", id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update restaurant")
	}
	return utils.Success(c, fiber.StatusOK, restaurant)
}

// Delete drops a restaurant and its menu links. Existing ratings keep the
// slug so historical queries still work.
func (h *RestaurantsHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	id := c.Params("restaurantId")

	var restaurant models.Restaurant
	if err := h.DB.First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete restaurant")
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&restaurant).Association("Menu").Clear(); err != nil {
			return err
		}
		return tx.Delete(&restaurant).Error
	})
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to delete restaurant", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete restaurant")
	}

	logger.InfoWithUser(user.ID.String(), "Restaurant deleted", map[string]interface{}{
		"restaurant_id": id,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// AddMenuItem appends an item to a restaurant's menu.
func (h *RestaurantsHandler) AddMenuItem(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	id := c.Params("restaurantId")

	var req menuItemRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "item name is required")
	}
	if req.Price < 0 {
		return utils.Error(c, fiber.StatusBadRequest, "price cannot be negative")
	}

	var restaurant models.Restaurant
	if err := h.DB.First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to add menu item")
	}

	item := models.MenuItem{Name: req.Name, Price: req.Price}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		return tx.Model(&restaurant).Association("Menu").Append(&item)
	})
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to add menu item", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to add menu item")
	}
	return utils.Success(c, fiber.StatusCreated, item)
}

func (h *RestaurantsHandler) DeleteMenuItem(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	id := c.Params("restaurantId")
	itemID, err := strconv.ParseUint(c.Params("itemId"), 10, 64)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid menu item id")
	}

	var restaurant models.Restaurant
	if err := h.DB.First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete menu item")
	}

	item := models.MenuItem{ID: uint(itemID)}
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&restaurant).Association("Menu").Delete(&item); err != nil {
			return err
		}
		return tx.Delete(&models.MenuItem{}, "id = ?", itemID).Error
	})
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to delete menu item", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete menu item")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// UploadPhoto stores a restaurant photo in object storage and records the
// object key on the restaurant.
func (h *RestaurantsHandler) UploadPhoto(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if h.Storage == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "object storage is not configured")
	}
	id := c.Params("restaurantId")

	var restaurant models.Restaurant
	if err := h.DB.First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to upload photo")
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "photo file is required")
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return utils.Error(c, fiber.StatusBadRequest, "photo must be an image")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "failed to read photo")
	}
	defer file.Close()

	objectKey := fmt.Sprintf("restaurants/%s/%d", restaurant.ID, time.Now().UnixNano())
	if err := h.Storage.Upload(c.Context(), objectKey, file, fileHeader.Size, contentType); err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to store photo", err, map[string]interface{}{
			"restaurant_id": restaurant.ID,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to store photo")
	}

	previous := restaurant.PhotoKey
	if err := h.DB.Model(&restaurant).Update("photo_key", objectKey).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to store photo")
	}
	if previous != nil {
		if err := h.Storage.Delete(c.Context(), *previous); err != nil {
			logger.Warn("Failed to delete replaced photo", map[string]interface{}{
				"object_key": *previous,
			})
		}
	}

	logger.InfoWithUser(user.ID.String(), "Restaurant photo uploaded", map[string]interface{}{
		"restaurant_id": restaurant.ID,
		"object_key":    objectKey,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"photoKey": objectKey})
}

// Photo streams the stored photo back to the client.
func (h *RestaurantsHandler) Photo(c *fiber.Ctx) error {
	if h.Storage == nil {
		return utils.Error(c, fiber.StatusServiceUnavailable, "object storage is not configured")
	}
	id := c.Params("restaurantId")

	var restaurant models.Restaurant
	if err := h.DB.First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "restaurant not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load photo")
	}
	if restaurant.PhotoKey == nil {
		return utils.Error(c, fiber.StatusNotFound, "restaurant has no photo")
	}

	object, err := h.Storage.Download(c.Context(), *restaurant.PhotoKey)
	if err != nil {
		logger.Error("Failed to fetch photo", err, map[string]interface{}{
			"object_key": *restaurant.PhotoKey,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load photo")
	}

	stat, err := object.Stat()
	if err == nil && stat.ContentType != "" {
		c.Set(fiber.HeaderContentType, stat.ContentType)
	}
	return c.SendStream(object)
}

// Leaderboard returns the group's restaurants ranked by this quarter's
// average score. Members only.
func (h *RestaurantsHandler) Leaderboard(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var membership models.GroupMembership
	err = h.DB.Where("group_id = ? AND user_id = ?", groupID, user.ID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusForbidden, "not a member of this group")
	}
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load leaderboard")
	}

	info := period.Current(time.Now().UTC())
	ranked, err := h.Ratings.RestaurantsWithAvgRating(groupID, info)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to load leaderboard", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load leaderboard")
	}
	return utils.Success(c, fiber.StatusOK, ranked)
}
