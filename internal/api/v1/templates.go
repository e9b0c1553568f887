package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

const defaultLocale = "en"

// TemplateInput creates a template.
type TemplateInput struct {
	Name      string           `json:"name" validate:"required,max=255"`
	Locale    string           `json:"locale" validate:"omitempty,max=5,locale"`
	Subject   *string          `json:"subject" validate:"omitempty,max=255"`
	Body      string           `json:"body" validate:"required"`
	Variables entities.JSONMap `json:"variables"`
	ChannelID *string          `json:"channel_id"`
}

// TemplatePatch is a partial template update.
type TemplatePatch struct {
	Name      *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Locale    *string          `json:"locale" validate:"omitempty,min=1,max=5,locale"`
	Subject   *string          `json:"subject" validate:"omitempty,max=255"`
	Body      *string          `json:"body" validate:"omitempty,min=1"`
	Variables entities.JSONMap `json:"variables"`
	ChannelID *string          `json:"channel_id"`
}

func (c *Controller) initTemplateRoutes() {
	g := c.Group.Group("/templates")
	g.GET("", c.ListTemplates)
	g.POST("", c.CreateTemplate)
	g.GET("/:id", c.GetTemplate)
	g.PATCH("/:id", c.UpdateTemplate)
	g.DELETE("/:id", c.DeleteTemplate)
}

// ListTemplates returns templates, optionally for one locale.
func (c *Controller) ListTemplates(ctx echo.Context) error {
	items, err := c.store.Templates.ListTemplates(ctx.Request().Context(), ctx.QueryParam("locale"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list templates")
	}
	return ctx.JSON(http.StatusOK, items)
}

// GetTemplate returns one template.
func (c *Controller) GetTemplate(ctx echo.Context) error {
	tmpl, err := c.store.Templates.GetTemplate(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

// CreateTemplate stores a template.
func (c *Controller) CreateTemplate(ctx echo.Context) error {
	var in TemplateInput
	if err := bindAndValidate(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid template")
	}
	if in.Locale == "" {
		in.Locale = defaultLocale
	}

	tmpl := &entities.Template{
		Name:      in.Name,
		Locale:    in.Locale,
		Subject:   in.Subject,
		Body:      in.Body,
		Variables: in.Variables,
		ChannelID: in.ChannelID,
	}
	if err := c.store.Templates.CreateTemplate(ctx.Request().Context(), tmpl); err != nil {
		return c.HandleError(ctx, err, "Failed to create template")
	}
	return ctx.JSON(http.StatusCreated, tmpl)
}

// UpdateTemplate applies a partial update.
func (c *Controller) UpdateTemplate(ctx echo.Context) error {
	var patch TemplatePatch
	if err := bindAndValidate(ctx, &patch); err != nil {
		return c.HandleError(ctx, err, "Invalid template")
	}

	reqCtx := ctx.Request().Context()
	tmpl, err := c.store.Templates.GetTemplate(reqCtx, ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get template")
	}

	if patch.Name != nil {
		tmpl.Name = *patch.Name
	}
	if patch.Locale != nil {
		tmpl.Locale = *patch.Locale
	}
	if patch.Subject != nil {
		tmpl.Subject = patch.Subject
	}
	if patch.Body != nil {
		tmpl.Body = *patch.Body
	}
	if patch.Variables != nil {
		tmpl.Variables = patch.Variables
	}
	if patch.ChannelID != nil {
		tmpl.ChannelID = patch.ChannelID
	}

	if err := c.store.Templates.UpdateTemplate(reqCtx, tmpl); err != nil {
		return c.HandleError(ctx, err, "Failed to update template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

// DeleteTemplate removes a template. Rules using it fall back to the
// event's own subject and body.
func (c *Controller) DeleteTemplate(ctx echo.Context) error {
	if err := c.store.Templates.DeleteTemplate(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete template")
	}
	return ctx.NoContent(http.StatusNoContent)
}
