package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/familyhub/notifier/internal/models"
	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type recordReader interface {
	GetByID(ctx context.Context, id string) (*models.NotificationRecord, error)
}

type batchReader interface {
	GetByID(ctx context.Context, id string) (*models.DeliveryBatch, error)
}

// NotificationHandler exposes delivery state to downstream consumers
type NotificationHandler struct {
	records recordReader
	batches batchReader
	logger  *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(records recordReader, batches batchReader, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		records: records,
		batches: batches,
		logger:  logger,
	}
}

// RegisterNotificationRoutes registers delivery status routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications/:id/delivery", h.GetDeliveryStatus)
	g.GET("/batches/:id", h.GetBatchSummary)
}

// GetDeliveryStatus returns the delivery fields of one notification record
func (h *NotificationHandler) GetDeliveryStatus(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid notification ID")
	}

	record, err := h.records.GetByID(c.Request().Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Notification not found")
	}
	if err != nil {
		h.logger.Error("Failed to load notification", zap.String("notification_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load notification")
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": record.ToDeliveryView()})
}

// GetBatchSummary returns the status and accounting of one delivery batch
func (h *NotificationHandler) GetBatchSummary(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid batch ID")
	}

	batch, err := h.batches.GetByID(c.Request().Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Batch not found")
	}
	if err != nil {
		h.logger.Error("Failed to load batch", zap.String("batch_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load batch")
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": batch.ToSummary()})
}
