package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
)

func (c *Controller) initChannelRoutes() {
	g := c.Group.Group("/channels")
	// Registered before /:id so "schema" is not taken as an id.
	g.GET("/schema", c.GetChannelSchema)
	g.GET("", c.ListChannels)
	g.POST("", c.CreateChannel)
	g.GET("/:id", c.GetChannel)
	g.PATCH("/:id", c.UpdateChannel)
	g.DELETE("/:id", c.DeleteChannel)
	g.POST("/:id/test", c.TestChannel)
}

// GetChannelSchema lists every channel kind with its config fields.
func (c *Controller) GetChannelSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, channels.GetSchema())
}

// ListChannels returns channels, optionally filtered by enabled and type.
func (c *Controller) ListChannels(ctx echo.Context) error {
	var filter repository.ChannelFilter
	if v := ctx.QueryParam("enabled"); v != "" {
		enabled := v == QueryValueTrue
		filter.Enabled = &enabled
	}
	filter.Types = splitQuery(ctx, "type")

	items, err := c.channels.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list channels")
	}
	return ctx.JSON(http.StatusOK, items)
}

// GetChannel returns one channel.
func (c *Controller) GetChannel(ctx echo.Context) error {
	ch, err := c.channels.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get channel")
	}
	return ctx.JSON(http.StatusOK, ch)
}

// CreateChannel validates and stores a channel.
func (c *Controller) CreateChannel(ctx echo.Context) error {
	var in channels.ChannelInput
	if err := bindAndValidate(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid channel")
	}
	ch, err := c.channels.Create(ctx.Request().Context(), in)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create channel")
	}
	return ctx.JSON(http.StatusCreated, ch)
}

// UpdateChannel applies a partial update and revalidates the config.
func (c *Controller) UpdateChannel(ctx echo.Context) error {
	var patch channels.ChannelPatch
	if err := bindAndValidate(ctx, &patch); err != nil {
		return c.HandleError(ctx, err, "Invalid channel")
	}
	ch, err := c.channels.Update(ctx.Request().Context(), ctx.Param("id"), patch)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update channel")
	}
	return ctx.JSON(http.StatusOK, ch)
}

// DeleteChannel removes a channel and its rule attachments.
func (c *Controller) DeleteChannel(ctx echo.Context) error {
	if err := c.channels.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete channel")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// TestChannel sends a test message through the channel. ?sync=true runs the
// send inline and reports its outcome; otherwise it is queued.
func (c *Controller) TestChannel(ctx echo.Context) error {
	var req channels.TestRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid test request")
	}

	sync := ctx.QueryParam("sync") == QueryValueTrue
	res, err := c.channels.TestChannel(ctx.Request().Context(), ctx.Param("id"), req, sync)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test channel")
	}

	status := http.StatusAccepted
	if sync {
		status = http.StatusOK
	}
	return ctx.JSON(status, res)
}

// splitQuery collects a repeatable query parameter, also splitting
// comma-separated values.
func splitQuery(ctx echo.Context, name string) []string {
	var out []string
	for _, raw := range ctx.QueryParams()[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
