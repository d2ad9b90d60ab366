package handlers

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/tavolo/backend/internal/models"
)

func TestCreateGroupGrantsAdminMembership(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "founder", "password123", models.UserRoleUser)

	resp := performJSONRequest(t, env.app, fiber.MethodPost, "/api/groups/", map[string]any{
		"name": "Lunch Club",
	}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)
	body := decodeJSONMap(t, resp)
	data := body["data"].(map[string]any)
	if data["joinCode"] == "" {
		t.Fatal("expected a join code on the created group")
	}

	var membership models.GroupMembership
	err := env.db.Where("user_id = ? AND group_id = ?", user.ID, data["id"]).First(&membership).Error
	if err != nil {
		t.Fatalf("expected creator membership, got %v", err)
	}
	if membership.Role != models.GroupRoleAdmin {
		t.Fatalf("expected creator role admin, got %s", membership.Role)
	}
}

func TestJoinGroupByCode(t *testing.T) {
	env := setupTestEnv(t)
	admin, _ := createTestUser(t, env.db, "admin1", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Team", admin.ID)
	_, token := createTestUser(t, env.db, "joiner", "password123", models.UserRoleUser)

	resp := performRequest(t, env.app, fiber.MethodPost, "/api/groups/join/"+group.JoinCode, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)

	// Joining twice conflicts.
	resp = performRequest(t, env.app, fiber.MethodPost, "/api/groups/join/"+group.JoinCode, nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusConflict)
}

func TestJoinGroupRejectsUnknownCode(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "lost", "password123", models.UserRoleUser)

	resp := performRequest(t, env.app, fiber.MethodPost, "/api/groups/join/NOPENOPE", nil, authHeaders(token))
	assertStatus(t, resp, fiber.StatusNotFound)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid join code")
}

func TestGetGroupRequiresMembership(t *testing.T) {
	env := setupTestEnv(t)
	admin, _ := createTestUser(t, env.db, "owner2", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Private", admin.ID)
	_, outsiderToken := createTestUser(t, env.db, "outsider", "password123", models.UserRoleUser)

	resp := performRequest(t, env.app, fiber.MethodGet, "/api/groups/"+group.ID.String(), nil, authHeaders(outsiderToken))
	assertStatus(t, resp, fiber.StatusForbidden)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "not a member of this group")
}

func TestRemoveMemberSelfLeave(t *testing.T) {
	env := setupTestEnv(t)
	admin, _ := createTestUser(t, env.db, "owner3", "password123", models.UserRoleUser)
	member, memberToken := createTestUser(t, env.db, "leaver", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Revolving Door", admin.ID, member.ID)

	path := fmt.Sprintf("/api/groups/%s/members/%s", group.ID, member.ID)
	resp := performRequest(t, env.app, fiber.MethodDelete, path, nil, authHeaders(memberToken))
	assertStatus(t, resp, fiber.StatusOK)

	var count int64
	env.db.Model(&models.GroupMembership{}).
		Where("group_id = ? AND user_id = ?", group.ID, member.ID).
		Count(&count)
	if count != 0 {
		t.Fatal("expected membership to be removed")
	}
}

func TestRemoveOtherMemberRequiresAdmin(t *testing.T) {
	env := setupTestEnv(t)
	admin, _ := createTestUser(t, env.db, "owner4", "password123", models.UserRoleUser)
	memberA, tokenA := createTestUser(t, env.db, "member-a", "password123", models.UserRoleUser)
	memberB, _ := createTestUser(t, env.db, "member-b", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Hierarchy", admin.ID, memberA.ID, memberB.ID)

	path := fmt.Sprintf("/api/groups/%s/members/%s", group.ID, memberB.ID)
	resp := performRequest(t, env.app, fiber.MethodDelete, path, nil, authHeaders(tokenA))
	assertStatus(t, resp, fiber.StatusForbidden)
}

func TestDeleteGroupKeepsRatings(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "owner5", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Ephemeral", admin.ID)
	createTestRestaurant(t, env.db, "trattoria", "italian")

	resp := performJSONRequest(t, env.app, fiber.MethodPost,
		fmt.Sprintf("/api/groups/%s/ratings", group.ID),
		map[string]any{"restaurantID": "trattoria", "score": 8.0},
		authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusCreated)

	resp = performRequest(t, env.app, fiber.MethodDelete, "/api/groups/"+group.ID.String(), nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusOK)

	var ratings int64
	env.db.Model(&models.Rating{}).Where("group_id = ?", group.ID).Count(&ratings)
	if ratings != 1 {
		t.Fatalf("expected the rating to survive group deletion, found %d", ratings)
	}
	var memberships int64
	env.db.Model(&models.GroupMembership{}).Where("group_id = ?", group.ID).Count(&memberships)
	if memberships != 0 {
		t.Fatal("expected memberships to be removed with the group")
	}
}
