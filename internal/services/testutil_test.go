package services

import (
	"database/sql/driver"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/models"
	"github.com/tavolo/backend/pkg/logger"
)

var testSetupOnce sync.Once

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
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
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username:     username,
		PasswordHash: "not-a-real-hash",
		Role:         models.UserRoleUser,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", username, err)
	}
	return user
}

func seedGroup(t *testing.T, db *gorm.DB, name string, memberIDs ...uuid.UUID) *models.Group {
	t.Helper()

	if len(memberIDs) == 0 {
		t.Fatal("seedGroup needs at least one member")
	}
	group := &models.Group{Name: name, CreatedByID: memberIDs[0]}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("failed creating group %s: %v", name, err)
	}
	for i, id := range memberIDs {
		role := models.GroupRoleMember
		if i == 0 {
			role = models.GroupRoleAdmin
		}
		m := models.GroupMembership{UserID: id, GroupID: group.ID, Role: role}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("failed creating membership: %v", err)
		}
	}
	return group
}

func seedRestaurant(t *testing.T, db *gorm.DB, id, cuisine string) *models.Restaurant {
	t.Helper()

	restaurant := &models.Restaurant{ID: id, Cuisine: cuisine}
	if err := db.Create(restaurant).Error; err != nil {
		t.Fatalf("failed creating restaurant %s: %v", id, err)
	}
	return restaurant
}

// backdateRating moves a rating row into an earlier quarter by rewriting its
// timestamps directly, bypassing gorm's auto-update hooks.
func backdateRating(t *testing.T, db *gorm.DB, ratingID uuid.UUID, to time.Time) {
	t.Helper()

	err := db.Model(&models.Rating{}).
		Where("id = ?", ratingID).
		UpdateColumns(map[string]interface{}{
			"created_at": to,
			"updated_at": to,
		}).Error
	if err != nil {
		t.Fatalf("failed backdating rating: %v", err)
	}
}
