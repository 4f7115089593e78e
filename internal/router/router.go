package router

import (
	"fmt"

	"github.com/anonto42/familyhub/notifier/internal/handlers"
	"github.com/anonto42/familyhub/notifier/internal/models"
	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate makes sure the profile table carries the push token column
func Migrate(pgdb *gorm.DB, logger *zap.Logger) error {
	if err := pgdb.AutoMigrate(&models.UserProfile{}); err != nil {
		return fmt.Errorf("auto migrate profiles: %w", err)
	}
	logger.Info("PostgreSQL auto-migrations completed")
	return nil
}

// SetupRoutes configures the health check and the delivery status API
func SetupRoutes(
	e *echo.Echo,
	records repositories.NotificationRepository,
	batches repositories.BatchRepository,
	health map[string]handlers.Pinger,
	logger *zap.Logger,
) {
	e.GET("/health", handlers.HealthCheck(health))

	api := e.Group("/api/v1")
	notificationHandler := handlers.NewNotificationHandler(records, batches, logger)
	notificationHandler.RegisterNotificationRoutes(api)

	logger.Info("All routes configured")
}
