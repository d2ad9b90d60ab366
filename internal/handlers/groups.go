package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

type GroupsHandler struct {
	DB *gorm.DB
}

func NewGroupsHandler(db *gorm.DB) *GroupsHandler {
	return &GroupsHandler{DB: db}
}

type createGroupRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type addMemberRequest struct {
	UserID string `json:"userID"`
	Role   string `json:"role"`
}

// getMembership loads the caller's membership row for a group. Returns nil
// when the user does not belong to the group.
func (h *GroupsHandler) getMembership(groupID, userID uuid.UUID) (*models.GroupMembership, error) {
	var m models.GroupMembership
	err := h.DB.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create makes a new group and grants the creator an admin membership in the
// same transaction.
func (h *GroupsHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "group name is required")
	}

	group := models.Group{
		Name:        req.Name,
		Description: req.Description,
		CreatedByID: user.ID,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		membership := models.GroupMembership{
			UserID:  user.ID,
			GroupID: group.ID,
			Role:    models.GroupRoleAdmin,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to create group", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to create group")
	}

	logger.InfoWithUser(user.ID.String(), "Group created", map[string]interface{}{
		"group_id": group.ID.String(),
		"name":     group.Name,
	})
	return utils.Success(c, fiber.StatusCreated, group)
}

// List returns all groups the caller belongs to.
func (h *GroupsHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var groups []models.Group
	err := h.DB.
		Joins("JOIN group_memberships ON group_memberships.group_id = groups.id").
		Where("group_memberships.user_id = ?", user.ID).
		Order("groups.name ASC").
		Find(&groups).Error
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to list groups", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list groups")
	}
	return utils.Success(c, fiber.StatusOK, groups)
}

// Get returns one group with its memberships. Members only.
func (h *GroupsHandler) Get(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	membership, err := h.getMembership(groupID, user.ID)
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to check membership", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load group")
	}
	if membership == nil {
		return utils.Error(c, fiber.StatusForbidden, "not a member of this group")
	}

	var group models.Group
	err = h.DB.Preload("Memberships.User").First(&group, "id = ?", groupID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "group not found")
		}
		logger.ErrorWithUser(user.ID.String(), "Failed to load group", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load group")
	}
	return utils.Success(c, fiber.StatusOK, group)
}

// Update changes a group's name or description. Group admins only.
func (h *GroupsHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	membership, err := h.getMembership(groupID, user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update group")
	}
	if membership == nil || membership.Role != models.GroupRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req updateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "group name cannot be empty")
		}
		updates["name"] = name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "nothing to update")
	}

	if err := h.DB.Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to update group", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update group")
	}

	var group models.Group
	if err := h.DB.First(&group, "id = ?", groupID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to update group")
	}
	return utils.Success(c, fiber.StatusOK, group)
}

// Delete removes a group and its memberships. Ratings stay behind so member
// history survives the group.
func (h *GroupsHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	membership, err := h.getMembership(groupID, user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete group")
	}
	if membership == nil || membership.Role != models.GroupRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMembership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, "id = ?", groupID).Error
	})
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to delete group", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete group")
	}

	logger.InfoWithUser(user.ID.String(), "Group deleted", map[string]interface{}{
		"group_id": groupID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// Join adds the caller to the group matching the supplied invite code.
func (h *GroupsHandler) Join(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	code := strings.ToUpper(strings.TrimSpace(c.Params("code")))
	if code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "join code is required")
	}

	var group models.Group
	if err := h.DB.Where("join_code = ?", code).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "invalid join code")
		}
		logger.ErrorWithUser(user.ID.String(), "Failed to look up join code", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to join group")
	}

	membership := models.GroupMembership{
		UserID:  user.ID,
		GroupID: group.ID,
		Role:    models.GroupRoleMember,
	}
	if err := h.DB.Create(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "already a member of this group")
		}
		logger.ErrorWithUser(user.ID.String(), "Failed to join group", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to join group")
	}

	logger.InfoWithUser(user.ID.String(), "User joined group", map[string]interface{}{
		"group_id": group.ID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, group)
}

// AddMember attaches an existing user to the group. Group admins only.
func (h *GroupsHandler) AddMember(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	membership, err := h.getMembership(groupID, user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to add member")
	}
	if membership == nil || membership.Role != models.GroupRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	targetID, err := parseUUID(req.UserID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	role := models.GroupRoleMember
	if req.Role != "" {
		if !isValidMembershipRole(req.Role) {
			return utils.Error(c, fiber.StatusBadRequest, "invalid membership role")
		}
		role = models.GroupMembershipRole(strings.ToLower(strings.TrimSpace(req.Role)))
	}

	var target models.User
	if err := h.DB.First(&target, "id = ?", targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to add member")
	}

	newMembership := models.GroupMembership{
		UserID:  targetID,
		GroupID: groupID,
		Role:    role,
	}
	if err := h.DB.Create(&newMembership).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "user is already a member")
		}
		logger.ErrorWithUser(user.ID.String(), "Failed to add member", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to add member")
	}

	logger.InfoWithUser(user.ID.String(), "Member added to group", map[string]interface{}{
		"group_id":  groupID.String(),
		"member_id": targetID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, newMembership)
}

// RemoveMember detaches a user from the group. Group admins can remove
// anyone; members can remove themselves. The user's ratings are kept.
func (h *GroupsHandler) RemoveMember(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	targetID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	membership, err := h.getMembership(groupID, user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to remove member")
	}
	if membership == nil {
		return utils.Error(c, fiber.StatusForbidden, "not a member of this group")
	}
	if targetID != user.ID && membership.Role != models.GroupRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "group admin access required")
	}

	result := h.DB.Where("group_id = ? AND user_id = ?", groupID, targetID).
		Delete(&models.GroupMembership{})
	if result.Error != nil {
		logger.ErrorWithUser(user.ID.String(), "Failed to remove member", result.Error, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to remove member")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "membership not found")
	}

	logger.InfoWithUser(user.ID.String(), "Member removed from group", map[string]interface{}{
		"group_id":  groupID.String(),
		"member_id": targetID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"removed": true})
}
