package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitepulse/beacon/internal/http/dto"
	"github.com/sitepulse/beacon/internal/service"
)

// IngestService is the slice of the ingest side the handler needs.
type IngestService interface {
	Submit(ctx context.Context, payload map[string]any) (service.SubmitResult, error)
}

type EventHandler struct {
	service IngestService
}

func NewEventHandler(service IngestService) *EventHandler {
	return &EventHandler{service: service}
}

// Submit accepts one analytics event. A 202 means "queued", never "stored":
// persistence happens asynchronously in the worker.
func (h *EventHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		slog.WarnContext(ctx, "malformed event submission", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	result, err := h.service.Submit(ctx, payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to accept event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept event"})
		return
	}

	if !result.Accepted() {
		c.JSON(http.StatusBadRequest, dto.RejectedEventResponse{
			Error:      "invalid event payload",
			Violations: result.Violations,
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitEventResponse{
		Status: "accepted",
		JobID:  result.JobID,
	})
}
