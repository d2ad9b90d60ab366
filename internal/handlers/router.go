package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/tavolo/backend/internal/blacklist"
	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/services"
	"github.com/tavolo/backend/internal/storage"
)

// RouterDeps carries everything the route tree needs. Storage and Blacklist
// may be nil; the handlers that need them degrade to 503.
type RouterDeps struct {
	DB             *gorm.DB
	Storage        *storage.MinIOClient
	Ratings        *services.RatingService
	Completion     *services.CompletionService
	Notifications  *services.NotificationService
	Blacklist      *blacklist.List
	VAPIDPublicKey string
}

// RegisterRoutes mounts the full API under /api.
func RegisterRoutes(app *fiber.App, deps RouterDeps) {
	auth := middleware.NewAuthMiddleware(deps.DB)

	authHandler := NewAuthHandler(deps.DB)
	groupsHandler := NewGroupsHandler(deps.DB)
	restaurantsHandler := NewRestaurantsHandler(deps.DB, deps.Storage, deps.Ratings)
	ratingsHandler := NewRatingsHandler(deps.DB, deps.Ratings, deps.Completion, deps.Notifications)
	subscriptionsHandler := NewSubscriptionsHandler(deps.DB, deps.VAPIDPublicKey)
	adminHandler := NewAdminHandler(deps.DB, deps.Blacklist)

	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)
	api.Get("/auth/me", auth.RequireAuth, authHandler.Me)

	groups := api.Group("/groups", auth.RequireAuth)
	groups.Post("/", groupsHandler.Create)
	groups.Get("/", groupsHandler.List)
	groups.Post("/join/:code", groupsHandler.Join)
	groups.Get("/:groupId", groupsHandler.Get)
	groups.Put("/:groupId", groupsHandler.Update)
	groups.Delete("/:groupId", groupsHandler.Delete)
	groups.Post("/:groupId/members", groupsHandler.AddMember)
	groups.Delete("/:groupId/members/:userId", groupsHandler.RemoveMember)

	groups.Post("/:groupId/ratings", ratingsHandler.Submit)
	groups.Delete("/:groupId/ratings/:ratingId", ratingsHandler.Delete)
	groups.Get("/:groupId/members/:userId/ratings", ratingsHandler.MemberRatings)
	groups.Get("/:groupId/restaurants", restaurantsHandler.Leaderboard)
	groups.Get("/:groupId/restaurants/:restaurantId/ratings", ratingsHandler.RestaurantRatings)
	groups.Get("/:groupId/restaurants/:restaurantId/ratings/:year/:period", ratingsHandler.RestaurantRatingsPerPeriod)
	groups.Get("/:groupId/restaurants/:restaurantId/complete", ratingsHandler.Complete)

	api.Get("/users/me/ratings", auth.RequireAuth, ratingsHandler.MyRatings)

	restaurants := api.Group("/restaurants")
	restaurants.Get("/", restaurantsHandler.List)
	restaurants.Post("/", auth.RequireAuth, restaurantsHandler.Create)
	restaurants.Get("/:restaurantId", restaurantsHandler.Get)
	restaurants.Put("/:restaurantId", auth.RequireAuth, restaurantsHandler.Update)
	restaurants.Delete("/:restaurantId", auth.RequireAuth, restaurantsHandler.Delete)
	restaurants.Post("/:restaurantId/menu", auth.RequireAuth, restaurantsHandler.AddMenuItem)
	restaurants.Delete("/:restaurantId/menu/:itemId", auth.RequireAuth, restaurantsHandler.DeleteMenuItem)
	restaurants.Post("/:restaurantId/photo", auth.RequireAuth, restaurantsHandler.UploadPhoto)
	restaurants.Get("/:restaurantId/photo", restaurantsHandler.Photo)

	api.Get("/push/vapid-key", subscriptionsHandler.VAPIDKey)
	api.Post("/push/subscriptions", auth.RequireAuth, subscriptionsHandler.Subscribe)
	api.Delete("/push/subscriptions", auth.RequireAuth, subscriptionsHandler.Unsubscribe)

	admin := api.Group("/admin", auth.RequireAuth, middleware.AdminOnly)
	admin.Get("/users", adminHandler.ListUsers)
	admin.Delete("/users/:userId", adminHandler.DeleteUser)
	admin.Get("/blacklist", adminHandler.ListBannedIPs)
	admin.Post("/blacklist", adminHandler.BanIP)
	admin.Delete("/blacklist/:ip", adminHandler.UnbanIP)
}
