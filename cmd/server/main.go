package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tavolo/backend/internal/blacklist"
	"github.com/tavolo/backend/internal/config"
	"github.com/tavolo/backend/internal/database"
	"github.com/tavolo/backend/internal/handlers"
	"github.com/tavolo/backend/internal/middleware"
	"github.com/tavolo/backend/internal/push"
	"github.com/tavolo/backend/internal/services"
	"github.com/tavolo/backend/internal/storage"
	"github.com/tavolo/backend/pkg/logger"
	"github.com/tavolo/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	banned := blacklist.New(db, cfg.Blacklist.RefreshInterval)
	if err := banned.Refresh(); err != nil {
		log.Fatalf("blacklist load failed: %v", err)
	}
	go banned.Run(ctx)

	var sender push.Sender
	if cfg.VAPID.PublicKey != "" && cfg.VAPID.PrivateKey != "" {
		sender = push.NewWebPushSender(cfg.VAPID.PublicKey, cfg.VAPID.PrivateKey, cfg.VAPID.Subject)
	} else {
		logger.Warn("VAPID keys not configured, push notifications disabled", nil)
		sender = push.NopSender{}
	}

	ratingService := services.NewRatingService(db)
	completionService := services.NewCompletionService(db)
	notificationService := services.NewNotificationService(db, sender)

	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.IPBlacklist(banned))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimit.Max,
		Expiration: cfg.RateLimit.Expiration,
	}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	handlers.RegisterRoutes(app, handlers.RouterDeps{
		DB:             db,
		Storage:        storageClient,
		Ratings:        ratingService,
		Completion:     completionService,
		Notifications:  notificationService,
		Blacklist:      banned,
		VAPIDPublicKey: cfg.VAPID.PublicKey,
	})

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		cancel()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
