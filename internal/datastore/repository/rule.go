package repository

import (
	"context"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

// RuleRepository handles rule CRUD and the escalation-order lookups the
// routing pipeline reads.
type RuleRepository interface {
	// ListRules returns rules with recipients, channels and template loaded.
	ListRules(ctx context.Context, filter RuleFilter) ([]entities.Rule, error)
	GetRule(ctx context.Context, id string) (*entities.Rule, error)
	CreateRule(ctx context.Context, rule *entities.Rule, rel RuleRelations) error
	// UpdateRule saves rule columns. A nil rel leaves attachments unchanged.
	UpdateRule(ctx context.Context, rule *entities.Rule, rel *RuleRelations) error
	DeleteRule(ctx context.Context, id string) error

	// OrderedChannelIDs returns the rule's channel IDs by ascending priority.
	OrderedChannelIDs(ctx context.Context, ruleID string) ([]string, error)
}

// RuleFilter controls rule listing queries.
type RuleFilter struct {
	Enabled *bool
}

// RuleRelations lists the recipients and channels attached to a rule.
// ChannelIDs order is the escalation order: index i is stored as priority i.
type RuleRelations struct {
	RecipientIDs []string
	ChannelIDs   []string
}
