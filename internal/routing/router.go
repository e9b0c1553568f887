// Package routing matches inbound events against rules and expands the
// matches into a staggered delivery plan.
package routing

import (
	"context"
	"fmt"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/logger"
)

// Event is an inbound occurrence to route.
type Event struct {
	EventID  string         `json:"event_id,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Tags     map[string]any `json:"tags,omitempty"`
	Host     string         `json:"host,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Subject  *string        `json:"subject,omitempty"`
	Body     *string        `json:"body,omitempty"`
}

// PlanItem is one rule × recipient unit. ChannelIDs are in escalation order.
type PlanItem struct {
	EventID            string         `json:"event_id"`
	RuleID             string         `json:"rule_id"`
	RecipientID        string         `json:"recipient_id"`
	ChannelIDs         []string       `json:"channel_ids"`
	FailoverTimeoutSec int            `json:"failover_timeout_sec"`
	Context            map[string]any `json:"context"`
	Subject            *string        `json:"subject"`
	Body               *string        `json:"body"`
}

// Router reads rules from the entity store. It holds no state of its own, so
// rule edits apply to the next event.
type Router struct {
	rules repository.RuleRepository
	log   logger.Logger
}

// NewRouter creates a router over rules.
func NewRouter(rules repository.RuleRepository, log logger.Logger) *Router {
	return &Router{rules: rules, log: log.Module("routing")}
}

// MatchRules returns the enabled rules that accept the event attributes.
func (r *Router) MatchRules(ctx context.Context, severity string, tags map[string]any, host string) ([]entities.Rule, error) {
	enabled := true
	rules, err := r.rules.ListRules(ctx, repository.RuleFilter{Enabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	matched := make([]entities.Rule, 0, len(rules))
	for i := range rules {
		if RuleMatches(&rules[i], severity, tags, host) {
			matched = append(matched, rules[i])
		}
	}
	return matched, nil
}

// RuleMatches applies a rule's severity, host and tag filters. Tag filters
// are only evaluated when the event carries tags; an untagged event passes
// every tag filter. A tagged event that lacks a filtered key, or carries
// null for it, never matches, even when the filter accepts "".
func RuleMatches(rule *entities.Rule, severity string, tags map[string]any, host string) bool {
	if !rule.Enabled {
		return false
	}
	if len(rule.SeverityFilter) > 0 && !rule.SeverityFilter.Contains(severity) {
		return false
	}
	if len(rule.HostFilter) > 0 && !rule.HostFilter.Contains(host) {
		return false
	}
	if len(rule.TagFilter) > 0 && len(tags) > 0 {
		for key, expected := range rule.TagFilter {
			v, ok := tags[key]
			if !ok || v == nil || !expected.Matches(entities.TagString(v)) {
				return false
			}
		}
	}
	return true
}

// BuildDeliveryPlan expands every matched rule into one item per recipient.
// Rules without channels or recipients contribute nothing.
func (r *Router) BuildDeliveryPlan(ctx context.Context, event Event) ([]PlanItem, error) {
	rules, err := r.MatchRules(ctx, event.Severity, event.Tags, event.Host)
	if err != nil {
		return nil, err
	}

	var plan []PlanItem
	for i := range rules {
		items, err := r.PlanForRule(ctx, &rules[i], event)
		if err != nil {
			return nil, err
		}
		plan = append(plan, items...)
	}

	r.log.Debug("delivery plan built",
		logger.String("event_id", event.EventID),
		logger.Int("rules_matched", len(rules)),
		logger.Int("items", len(plan)))
	return plan, nil
}

// PlanForRule expands a single rule without matching it against the event.
// It returns an empty plan when the rule has no channels or no recipients.
func (r *Router) PlanForRule(ctx context.Context, rule *entities.Rule, event Event) ([]PlanItem, error) {
	channelIDs, err := r.rules.OrderedChannelIDs(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels for rule %s: %w", rule.ID, err)
	}
	if len(channelIDs) == 0 {
		r.log.Debug("rule has no channels, skip", logger.String("rule_id", rule.ID))
		return nil, nil
	}
	if len(rule.Recipients) == 0 {
		r.log.Debug("rule has no recipients, skip", logger.String("rule_id", rule.ID))
		return nil, nil
	}

	ctxMap := event.Context
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}

	items := make([]PlanItem, 0, len(rule.Recipients))
	for _, rec := range rule.Recipients {
		items = append(items, PlanItem{
			EventID:            event.EventID,
			RuleID:             rule.ID,
			RecipientID:        rec.ID,
			ChannelIDs:         channelIDs,
			FailoverTimeoutSec: rule.FailoverTimeoutSec,
			Context:            ctxMap,
			Subject:            event.Subject,
			Body:               event.Body,
		})
	}
	return items, nil
}
