package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/service"
)

// StatsProvider is the slice of the stats side the handler needs.
type StatsProvider interface {
	Report(ctx context.Context, siteID, date string) (model.StatsReport, error)
}

type StatsHandler struct {
	service StatsProvider
}

func NewStatsHandler(service StatsProvider) *StatsHandler {
	return &StatsHandler{service: service}
}

// Report returns the per-site daily aggregate. site_id is required; date
// defaults to today (UTC) when absent.
func (h *StatsHandler) Report(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.service.Report(ctx, c.Query("site_id"), c.Query("date"))
	if err != nil {
		if errors.Is(err, service.ErrSiteRequired) || errors.Is(err, service.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to build stats report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build stats report"})
		return
	}

	c.JSON(http.StatusOK, report)
}
