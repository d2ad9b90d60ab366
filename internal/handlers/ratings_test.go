package handlers

import (
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tavolo/backend/internal/models"
)

func submitRating(t *testing.T, env *testEnv, token string, groupID, restaurantID string, score float64) {
	t.Helper()
	resp := performJSONRequest(t, env.app, fiber.MethodPost,
		fmt.Sprintf("/api/groups/%s/ratings", groupID),
		map[string]any{"restaurantID": restaurantID, "score": score},
		authHeaders(token))
	if resp.StatusCode != fiber.StatusCreated && resp.StatusCode != fiber.StatusOK {
		t.Fatalf("submit rating failed with status %d", resp.StatusCode)
	}
	decodeJSONMap(t, resp)
}

func TestSubmitRatingCreatesThenUpdates(t *testing.T) {
	env := setupTestEnv(t)
	admin, token := createTestUser(t, env.db, "rater1", "password123", models.UserRoleUser)
	member, _ := createTestUser(t, env.db, "rater2", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Diners", admin.ID, member.ID)
	createTestRestaurant(t, env.db, "sushi-bar", "japanese")

	submitRating(t, env, token, group.ID.String(), "sushi-bar", 6.0)
	submitRating(t, env, token, group.ID.String(), "sushi-bar", 9.0)

	var ratings []models.Rating
	env.db.Where("group_id = ? AND user_id = ?", group.ID, admin.ID).Find(&ratings)
	if len(ratings) != 1 {
		t.Fatalf("expected a single rating row after re-submit, got %d", len(ratings))
	}
	if ratings[0].Score != 9.0 {
		t.Fatalf("expected score 9.0 after update, got %v", ratings[0].Score)
	}
}

func TestSubmitRatingRejectsNonMember(t *testing.T) {
	env := setupTestEnv(t)
	admin, _ := createTestUser(t, env.db, "rater3", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Closed Table", admin.ID)
	_, outsiderToken := createTestUser(t, env.db, "outsider2", "password123", models.UserRoleUser)
	createTestRestaurant(t, env.db, "diner", "american")

	resp := performJSONRequest(t, env.app, fiber.MethodPost,
		fmt.Sprintf("/api/groups/%s/ratings", group.ID),
		map[string]any{"restaurantID": "diner", "score": 5.0},
		authHeaders(outsiderToken))
	assertStatus(t, resp, fiber.StatusForbidden)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "not a member of this group")
}

func TestSubmitRatingValidatesScore(t *testing.T) {
	env := setupTestEnv(t)
	admin, token := createTestUser(t, env.db, "rater4", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Strict", admin.ID)
	createTestRestaurant(t, env.db, "bistro", "french")

	resp := performJSONRequest(t, env.app, fiber.MethodPost,
		fmt.Sprintf("/api/groups/%s/ratings", group.ID),
		map[string]any{"restaurantID": "bistro", "score": 11.0},
		authHeaders(token))
	assertStatus(t, resp, fiber.StatusBadRequest)
}

func TestCompletionNotifiesOncePerQuarter(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "notify1", "password123", models.UserRoleUser)
	member, memberToken := createTestUser(t, env.db, "notify2", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Complete Club", admin.ID, member.ID)
	createTestRestaurant(t, env.db, "taqueria", "mexican")

	sub := models.PushSubscription{
		UserID:   admin.ID,
		Endpoint: "https://push.example.com/ep-1",
		P256dh:   "p256dh-key",
		Auth:     "auth-secret",
	}
	if err := env.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed creating subscription: %v", err)
	}

	submitRating(t, env, adminToken, group.ID.String(), "taqueria", 7.0)
	if env.sender.sentCount() != 0 {
		t.Fatal("notification must not fire before everyone has rated")
	}

	submitRating(t, env, memberToken, group.ID.String(), "taqueria", 8.0)
	waitForSends(t, env.sender, 1)

	// Re-rating after completion must not notify again this quarter.
	submitRating(t, env, adminToken, group.ID.String(), "taqueria", 9.5)
	time.Sleep(100 * time.Millisecond)
	if got := env.sender.sentCount(); got != 1 {
		t.Fatalf("expected exactly one delivery, got %d", got)
	}

	var ledger int64
	env.db.Model(&models.RatingNotification{}).
		Where("group_id = ? AND restaurant_id = ?", group.ID, "taqueria").
		Count(&ledger)
	if ledger != 1 {
		t.Fatalf("expected one ledger row, got %d", ledger)
	}
}

func TestPermanentDeliveryFailureDropsSubscription(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "notify3", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Gone Club", admin.ID)
	createTestRestaurant(t, env.db, "ramen-ya", "japanese")

	sub := models.PushSubscription{
		UserID:   admin.ID,
		Endpoint: "https://push.example.com/dead",
		P256dh:   "p256dh-key",
		Auth:     "auth-secret",
	}
	if err := env.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed creating subscription: %v", err)
	}
	env.sender.failPermanently[sub.Endpoint] = true

	submitRating(t, env, adminToken, group.ID.String(), "ramen-ya", 6.5)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var count int64
		env.db.Model(&models.PushSubscription{}).Where("endpoint = ?", sub.Endpoint).Count(&count)
		if count == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the dead subscription to be deleted")
}

func TestCompleteEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	admin, adminToken := createTestUser(t, env.db, "check1", "password123", models.UserRoleUser)
	member, memberToken := createTestUser(t, env.db, "check2", "password123", models.UserRoleUser)
	group := createTestGroup(t, env.db, "Checkers", admin.ID, member.ID)
	createTestRestaurant(t, env.db, "pizzeria", "italian")

	path := fmt.Sprintf("/api/groups/%s/restaurants/pizzeria/complete", group.ID)

	submitRating(t, env, adminToken, group.ID.String(), "pizzeria", 7.0)
	resp := performRequest(t, env.app, fiber.MethodGet, path, nil, authHeaders(adminToken))
	assertStatus(t, resp, fiber.StatusOK)
	body := decodeJSONMap(t, resp)
	if complete := body["data"].(map[string]any)["complete"].(bool); complete {
		t.Fatal("expected incomplete while a member has not rated")
	}

	submitRating(t, env, memberToken, group.ID.String(), "pizzeria", 8.0)
	resp = performRequest(t, env.app, fiber.MethodGet, path, nil, authHeaders(adminToken))
	body = decodeJSONMap(t, resp)
	if complete := body["data"].(map[string]any)["complete"].(bool); !complete {
		t.Fatal("expected complete after everyone rated")
	}
}

func TestVAPIDKeyEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, fiber.MethodGet, "/api/push/vapid-key", nil, nil)
	assertStatus(t, resp, fiber.StatusOK)
	body := decodeJSONMap(t, resp)
	if key := body["data"].(map[string]any)["publicKey"]; key != "test-vapid-public-key" {
		t.Fatalf("unexpected public key %v", key)
	}
}
