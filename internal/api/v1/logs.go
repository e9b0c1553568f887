package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/errors"
)

func (c *Controller) initLogRoutes() {
	g := c.Group.Group("/logs")
	g.GET("", c.ListDeliveryLogs)
	g.GET("/:id", c.GetDeliveryLog)
}

// ListDeliveryLogs browses the audit trail, newest first.
func (c *Controller) ListDeliveryLogs(ctx echo.Context) error {
	filter, err := parseLogFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid log filter")
	}

	items, err := c.store.Logs.ListDeliveryLogs(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list delivery logs")
	}
	return ctx.JSON(http.StatusOK, items)
}

// GetDeliveryLog returns one log row.
func (c *Controller) GetDeliveryLog(ctx echo.Context) error {
	entry, err := c.store.Logs.GetDeliveryLog(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get delivery log")
	}
	return ctx.JSON(http.StatusOK, entry)
}

func parseLogFilter(ctx echo.Context) (repository.DeliveryLogFilter, error) {
	filter := repository.DeliveryLogFilter{
		RuleID:      ctx.QueryParam("rule_id"),
		ChannelID:   ctx.QueryParam("channel_id"),
		RecipientID: ctx.QueryParam("recipient_id"),
		EventID:     ctx.QueryParam("event_id"),
		Statuses:    splitQuery(ctx, "status"),
	}

	if v := ctx.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > repository.MaxLogLimit {
			return filter, errors.Validation("parse limit",
				"limit must be between 1 and "+strconv.Itoa(repository.MaxLogLimit))
		}
		filter.Limit = limit
	}

	var err error
	if filter.CreatedFrom, err = parseTimeParam(ctx, "created_from"); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = parseTimeParam(ctx, "created_to"); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseTimeParam reads an RFC 3339 timestamp, also accepting a bare date.
func parseTimeParam(ctx echo.Context, name string) (*time.Time, error) {
	v := ctx.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, errors.Validation("parse "+name, name+" must be an RFC 3339 timestamp")
}
