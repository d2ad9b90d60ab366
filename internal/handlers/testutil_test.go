package handlers

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/internal/push"
	"github.com/tavolo/backend/internal/services"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	sender *fakeSender
}

// fakeSender records every push it is asked to deliver. Endpoints listed in
// failPermanently report a dead endpoint instead.
type fakeSender struct {
	mu              sync.Mutex
	sent            []push.Subscription
	failPermanently map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{failPermanently: map[string]bool{}}
}

func (f *fakeSender) Send(ctx context.Context, sub push.Subscription, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPermanently[sub.Endpoint] {
		return &push.DeliveryError{Permanent: true, Err: context.Canceled}
	}
	f.sent = append(f.sent, sub)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMembership{},
		&models.Restaurant{},
		&models.MenuItem{},
		&models.Rating{},
		&models.RatingNotification{},
		&models.PushSubscription{},
		&models.BlacklistedIP{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	sender := newFakeSender()

	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	RegisterRoutes(app, RouterDeps{
		DB:             db,
		Ratings:        services.NewRatingService(db),
		Completion:     services.NewCompletionService(db),
		Notifications:  services.NewNotificationService(db, sender),
		VAPIDPublicKey: "test-vapid-public-key",
	})

	return &testEnv{app: app, db: db, sender: sender}
}

func createTestUser(t *testing.T, db *gorm.DB, username, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createTestGroup(t *testing.T, db *gorm.DB, name string, adminID uuid.UUID, memberIDs ...uuid.UUID) *models.Group {
	t.Helper()

	group := &models.Group{Name: name, CreatedByID: adminID}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("failed creating test group: %v", err)
	}
	memberships := []models.GroupMembership{
		{UserID: adminID, GroupID: group.ID, Role: models.GroupRoleAdmin},
	}
	for _, id := range memberIDs {
		memberships = append(memberships, models.GroupMembership{
			UserID: id, GroupID: group.ID, Role: models.GroupRoleMember,
		})
	}
	if err := db.Create(&memberships).Error; err != nil {
		t.Fatalf("failed creating test memberships: %v", err)
	}
	return group
}

func createTestRestaurant(t *testing.T, db *gorm.DB, id, cuisine string) *models.Restaurant {
	t.Helper()

	restaurant := &models.Restaurant{ID: id, Cuisine: cuisine}
	if err := db.Create(restaurant).Error; err != nil {
		t.Fatalf("failed creating test restaurant: %v", err)
	}
	return restaurant
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

// waitForSends polls the fake sender until it has seen at least n deliveries
// or the deadline passes. Dispatch runs detached from the request.
func waitForSends(t *testing.T, sender *fakeSender, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.sentCount() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least %d push deliveries, got %d", n, sender.sentCount())
}
