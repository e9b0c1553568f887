package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
)

// RecipientInput creates a recipient.
type RecipientInput struct {
	Type           string                   `json:"type" validate:"required,max=50"`
	Address        string                   `json:"address" validate:"required,max=255"`
	Status         string                   `json:"status" validate:"omitempty,max=32"`
	SilenceWindows []entities.SilenceWindow `json:"silence_windows" validate:"dive"`
}

// RecipientPatch is a partial recipient update. A non-nil SilenceWindows
// replaces the list; an empty list clears it.
type RecipientPatch struct {
	Type           *string                   `json:"type" validate:"omitempty,min=1,max=50"`
	Address        *string                   `json:"address" validate:"omitempty,min=1,max=255"`
	Status         *string                   `json:"status" validate:"omitempty,min=1,max=32"`
	SilenceWindows *[]entities.SilenceWindow `json:"silence_windows" validate:"omitempty,dive"`
}

func (c *Controller) initRecipientRoutes() {
	g := c.Group.Group("/recipients")
	g.GET("", c.ListRecipients)
	g.POST("", c.CreateRecipient)
	g.GET("/:id", c.GetRecipient)
	g.PATCH("/:id", c.UpdateRecipient)
	g.DELETE("/:id", c.DeleteRecipient)
}

// ListRecipients returns recipients filtered by status and type.
func (c *Controller) ListRecipients(ctx echo.Context) error {
	items, err := c.store.Recipients.ListRecipients(ctx.Request().Context(), repository.RecipientFilter{
		Status: ctx.QueryParam("status"),
		Type:   ctx.QueryParam("type"),
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list recipients")
	}
	return ctx.JSON(http.StatusOK, items)
}

// GetRecipient returns one recipient.
func (c *Controller) GetRecipient(ctx echo.Context) error {
	rec, err := c.store.Recipients.GetRecipient(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get recipient")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// CreateRecipient stores a recipient. (type, address) must be unique.
func (c *Controller) CreateRecipient(ctx echo.Context) error {
	var in RecipientInput
	if err := bindAndValidate(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid recipient")
	}
	if in.Status == "" {
		in.Status = entities.RecipientStatusActive
	}

	rec := &entities.Recipient{
		Type:           in.Type,
		Address:        in.Address,
		Status:         in.Status,
		SilenceWindows: in.SilenceWindows,
	}
	if err := c.store.Recipients.CreateRecipient(ctx.Request().Context(), rec); err != nil {
		return c.HandleError(ctx, err, "Failed to create recipient")
	}
	return ctx.JSON(http.StatusCreated, rec)
}

// UpdateRecipient applies a partial update.
func (c *Controller) UpdateRecipient(ctx echo.Context) error {
	var patch RecipientPatch
	if err := bindAndValidate(ctx, &patch); err != nil {
		return c.HandleError(ctx, err, "Invalid recipient")
	}

	reqCtx := ctx.Request().Context()
	rec, err := c.store.Recipients.GetRecipient(reqCtx, ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get recipient")
	}

	if patch.Type != nil {
		rec.Type = *patch.Type
	}
	if patch.Address != nil {
		rec.Address = *patch.Address
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.SilenceWindows != nil {
		rec.SilenceWindows = *patch.SilenceWindows
	}

	if err := c.store.Recipients.UpdateRecipient(reqCtx, rec); err != nil {
		return c.HandleError(ctx, err, "Failed to update recipient")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// DeleteRecipient removes a recipient and detaches it from rules.
func (c *Controller) DeleteRecipient(ctx echo.Context) error {
	if err := c.store.Recipients.DeleteRecipient(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete recipient")
	}
	return ctx.NoContent(http.StatusNoContent)
}
