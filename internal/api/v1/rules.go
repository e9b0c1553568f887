package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/routing"
)

// RuleInput creates a rule. ChannelIDs order is the escalation order.
type RuleInput struct {
	Name               string                   `json:"name" validate:"required,max=255"`
	Enabled            *bool                    `json:"enabled"`
	SeverityFilter     entities.IncludeList     `json:"severity_filter"`
	TagFilter          entities.TagFilter       `json:"tag_filter"`
	HostFilter         entities.IncludeList     `json:"host_filter"`
	FailoverTimeoutSec *int                     `json:"failover_timeout_sec" validate:"omitempty,min=0"`
	SilenceWindows     []entities.SilenceWindow `json:"silence_windows" validate:"dive"`
	RateLimit          *entities.RateLimit      `json:"rate_limit"`
	DedupWindowSec     int                      `json:"dedup_window_sec" validate:"min=0"`
	TemplateID         *string                  `json:"template_id"`
	ChannelIDs         []string                 `json:"channel_ids"`
	RecipientIDs       []string                 `json:"recipient_ids"`
}

// RulePatch is a partial rule update. ChannelIDs or RecipientIDs, when
// present, replace the attachments; the other list is kept.
type RulePatch struct {
	Name               *string                   `json:"name" validate:"omitempty,min=1,max=255"`
	Enabled            *bool                     `json:"enabled"`
	SeverityFilter     *entities.IncludeList     `json:"severity_filter"`
	TagFilter          *entities.TagFilter       `json:"tag_filter"`
	HostFilter         *entities.IncludeList     `json:"host_filter"`
	FailoverTimeoutSec *int                      `json:"failover_timeout_sec" validate:"omitempty,min=0"`
	SilenceWindows     *[]entities.SilenceWindow `json:"silence_windows" validate:"omitempty,dive"`
	RateLimit          *entities.RateLimit       `json:"rate_limit"`
	DedupWindowSec     *int                      `json:"dedup_window_sec" validate:"omitempty,min=0"`
	TemplateID         *string                   `json:"template_id"`
	ChannelIDs         *[]string                 `json:"channel_ids"`
	RecipientIDs       *[]string                 `json:"recipient_ids"`
}

// ruleView is a rule with its attachments flattened to ids.
type ruleView struct {
	*entities.Rule
	ChannelIDs   []string `json:"channel_ids"`
	RecipientIDs []string `json:"recipient_ids"`
}

func newRuleView(rule *entities.Rule) ruleView {
	v := ruleView{Rule: rule, ChannelIDs: []string{}, RecipientIDs: []string{}}
	for _, link := range rule.Channels {
		v.ChannelIDs = append(v.ChannelIDs, link.ChannelID)
	}
	for i := range rule.Recipients {
		v.RecipientIDs = append(v.RecipientIDs, rule.Recipients[i].ID)
	}
	return v
}

func (c *Controller) initRuleRoutes() {
	g := c.Group.Group("/rules")
	g.GET("", c.ListRules)
	g.POST("", c.CreateRule)
	g.GET("/:id", c.GetRule)
	g.PATCH("/:id", c.UpdateRule)
	g.DELETE("/:id", c.DeleteRule)
	g.POST("/:id/test", c.TestRule)
}

// ListRules returns rules, optionally only enabled or disabled ones.
func (c *Controller) ListRules(ctx echo.Context) error {
	var filter repository.RuleFilter
	if v := ctx.QueryParam("enabled"); v != "" {
		enabled := v == QueryValueTrue
		filter.Enabled = &enabled
	}

	rules, err := c.store.Rules.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list rules")
	}
	views := make([]ruleView, 0, len(rules))
	for i := range rules {
		views = append(views, newRuleView(&rules[i]))
	}
	return ctx.JSON(http.StatusOK, views)
}

// GetRule returns one rule with its channel and recipient ids.
func (c *Controller) GetRule(ctx echo.Context) error {
	rule, err := c.store.Rules.GetRule(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get rule")
	}
	return ctx.JSON(http.StatusOK, newRuleView(rule))
}

// CreateRule stores a rule with its attachments.
func (c *Controller) CreateRule(ctx echo.Context) error {
	var in RuleInput
	if err := bindAndValidate(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid rule")
	}

	reqCtx := ctx.Request().Context()
	if err := c.checkTemplate(ctx, in.TemplateID); err != nil {
		return c.HandleError(ctx, err, "Failed to create rule")
	}

	rule := &entities.Rule{
		Name:               in.Name,
		Enabled:            in.Enabled == nil || *in.Enabled,
		SeverityFilter:     in.SeverityFilter,
		TagFilter:          in.TagFilter,
		HostFilter:         in.HostFilter,
		FailoverTimeoutSec: entities.DefaultFailoverTimeoutSec,
		SilenceWindows:     in.SilenceWindows,
		RateLimit:          in.RateLimit,
		DedupWindowSec:     in.DedupWindowSec,
		TemplateID:         in.TemplateID,
	}
	if in.FailoverTimeoutSec != nil {
		rule.FailoverTimeoutSec = *in.FailoverTimeoutSec
	}

	rel := repository.RuleRelations{RecipientIDs: in.RecipientIDs, ChannelIDs: in.ChannelIDs}
	if err := c.store.Rules.CreateRule(reqCtx, rule, rel); err != nil {
		return c.HandleError(ctx, err, "Failed to create rule")
	}
	return ctx.JSON(http.StatusCreated, newRuleView(rule))
}

// UpdateRule applies a partial update.
func (c *Controller) UpdateRule(ctx echo.Context) error {
	var patch RulePatch
	if err := bindAndValidate(ctx, &patch); err != nil {
		return c.HandleError(ctx, err, "Invalid rule")
	}

	reqCtx := ctx.Request().Context()
	rule, err := c.store.Rules.GetRule(reqCtx, ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get rule")
	}
	if err := c.checkTemplate(ctx, patch.TemplateID); err != nil {
		return c.HandleError(ctx, err, "Failed to update rule")
	}

	applyRulePatch(rule, &patch)

	var rel *repository.RuleRelations
	if patch.ChannelIDs != nil || patch.RecipientIDs != nil {
		current := newRuleView(rule)
		rel = &repository.RuleRelations{RecipientIDs: current.RecipientIDs, ChannelIDs: current.ChannelIDs}
		if patch.ChannelIDs != nil {
			rel.ChannelIDs = *patch.ChannelIDs
		}
		if patch.RecipientIDs != nil {
			rel.RecipientIDs = *patch.RecipientIDs
		}
	}

	if err := c.store.Rules.UpdateRule(reqCtx, rule, rel); err != nil {
		return c.HandleError(ctx, err, "Failed to update rule")
	}
	return ctx.JSON(http.StatusOK, newRuleView(rule))
}

func applyRulePatch(rule *entities.Rule, p *RulePatch) {
	if p.Name != nil {
		rule.Name = *p.Name
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if p.SeverityFilter != nil {
		rule.SeverityFilter = *p.SeverityFilter
	}
	if p.TagFilter != nil {
		rule.TagFilter = *p.TagFilter
	}
	if p.HostFilter != nil {
		rule.HostFilter = *p.HostFilter
	}
	if p.FailoverTimeoutSec != nil {
		rule.FailoverTimeoutSec = *p.FailoverTimeoutSec
	}
	if p.SilenceWindows != nil {
		rule.SilenceWindows = *p.SilenceWindows
	}
	if p.RateLimit != nil {
		rule.RateLimit = p.RateLimit
	}
	if p.DedupWindowSec != nil {
		rule.DedupWindowSec = *p.DedupWindowSec
	}
	if p.TemplateID != nil {
		if *p.TemplateID == "" {
			rule.TemplateID = nil
		} else {
			rule.TemplateID = p.TemplateID
		}
		rule.Template = nil
	}
}

// checkTemplate rejects a reference to a template that does not exist.
func (c *Controller) checkTemplate(ctx echo.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	_, err := c.store.Templates.GetTemplate(ctx.Request().Context(), *id)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return errors.Validation("check template", "Template not found")
	}
	return err
}

// DeleteRule removes a rule and its attachments.
func (c *Controller) DeleteRule(ctx echo.Context) error {
	if err := c.store.Rules.DeleteRule(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete rule")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// TestRule schedules a synthetic event through one rule, skipping matching.
func (c *Controller) TestRule(ctx echo.Context) error {
	var event routing.Event
	if err := bindAndValidate(ctx, &event); err != nil {
		return c.HandleError(ctx, err, "Invalid test event")
	}

	receipt, err := c.ingest.TestRule(ctx.Request().Context(), ctx.Param("id"), event)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test rule")
	}
	return ctx.JSON(http.StatusAccepted, receipt)
}
