package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/notifyroute/internal/routing"
)

func (c *Controller) initEventRoutes() {
	c.Group.POST("/events", c.IngestEvent)
}

// IngestEvent routes an event and enqueues its delivery plan. Responds 202
// with the number of tasks enqueued, or 404 when nothing matched.
func (c *Controller) IngestEvent(ctx echo.Context) error {
	var event routing.Event
	if err := bindAndValidate(ctx, &event); err != nil {
		return c.HandleError(ctx, err, "Invalid event")
	}

	receipt, err := c.ingest.Ingest(ctx.Request().Context(), event)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to ingest event")
	}
	return ctx.JSON(http.StatusAccepted, receipt)
}
