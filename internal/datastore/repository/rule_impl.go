package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"gorm.io/gorm"
)

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Template").
		Preload("Recipients", func(db *gorm.DB) *gorm.DB {
			return db.Order("notification_recipients.created_at ASC").Order("notification_recipients.id ASC")
		}).
		Preload("Channels", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC").Order("channel_id ASC")
		}).
		Preload("Channels.Channel")
}

// ListRules returns rules matching the filter, oldest first.
func (r *ruleRepository) ListRules(ctx context.Context, filter RuleFilter) ([]entities.Rule, error) {
	var rules []entities.Rule
	query := r.preloaded(ctx)
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if err := query.Order("created_at ASC").Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a rule by ID or ErrRuleNotFound.
func (r *ruleRepository) GetRule(ctx context.Context, id string) (*entities.Rule, error) {
	var rule entities.Rule
	if err := r.preloaded(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return &rule, nil
}

// CreateRule inserts a rule and attaches its recipients and channels.
func (r *ruleRepository) CreateRule(ctx context.Context, rule *entities.Rule, rel RuleRelations) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := detached(rule)
		if err := tx.Create(row).Error; err != nil {
			return translateWriteErr(err, "create rule")
		}
		rule.ID, rule.CreatedAt, rule.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
		return setRelations(tx, rule, rel)
	})
}

// UpdateRule saves every column of an existing rule and, when rel is not
// nil, replaces its attachments.
func (r *ruleRepository) UpdateRule(ctx context.Context, rule *entities.Rule, rel *RuleRelations) error {
	if rule.ID == "" {
		return fmt.Errorf("failed to update rule: missing rule ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := detached(rule)
		result := tx.Model(row).Select("*").Omit("created_at").Updates(row)
		if result.Error != nil {
			return translateWriteErr(result.Error, "update rule")
		}
		if result.RowsAffected == 0 {
			return ErrRuleNotFound
		}
		rule.UpdatedAt = row.UpdatedAt
		if rel == nil {
			return nil
		}
		return setRelations(tx, rule, *rel)
	})
}

// DeleteRule deletes a rule and its attachments.
func (r *ruleRepository) DeleteRule(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&entities.RuleChannel{}).Error; err != nil {
			return fmt.Errorf("failed to delete channel attachments of rule %s: %w", id, err)
		}
		if err := tx.Exec("DELETE FROM notification_rule_recipients WHERE rule_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete recipient attachments of rule %s: %w", id, err)
		}
		result := tx.Delete(&entities.Rule{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete rule %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRuleNotFound
		}
		return nil
	})
}

// OrderedChannelIDs returns channel IDs attached to the rule by priority.
func (r *ruleRepository) OrderedChannelIDs(ctx context.Context, ruleID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entities.RuleChannel{}).
		Where("rule_id = ?", ruleID).
		Order("priority ASC").Order("channel_id ASC").
		Pluck("channel_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list channels of rule %s: %w", ruleID, err)
	}
	return ids, nil
}

// detached copies the rule's columns without its associations so writes
// never cascade into recipients, channels or templates.
func detached(rule *entities.Rule) *entities.Rule {
	row := *rule
	row.Template = nil
	row.Recipients = nil
	row.Channels = nil
	return &row
}

// setRelations replaces the rule's recipient and channel attachments.
// Unknown IDs are rejected as validation errors.
func setRelations(tx *gorm.DB, rule *entities.Rule, rel RuleRelations) error {
	recipients, err := loadRecipients(tx, rel.RecipientIDs)
	if err != nil {
		return err
	}
	channelIDs := dedupe(rel.ChannelIDs)
	if err := checkChannelsExist(tx, channelIDs); err != nil {
		return err
	}

	if err := tx.Exec("DELETE FROM notification_rule_recipients WHERE rule_id = ?", rule.ID).Error; err != nil {
		return fmt.Errorf("failed to clear recipients of rule %s: %w", rule.ID, err)
	}
	for i := range recipients {
		if err := tx.Exec("INSERT INTO notification_rule_recipients (rule_id, recipient_id) VALUES (?, ?)",
			rule.ID, recipients[i].ID).Error; err != nil {
			return fmt.Errorf("failed to attach recipient %s: %w", recipients[i].ID, err)
		}
	}

	if err := tx.Where("rule_id = ?", rule.ID).Delete(&entities.RuleChannel{}).Error; err != nil {
		return fmt.Errorf("failed to clear channels of rule %s: %w", rule.ID, err)
	}
	links := make([]entities.RuleChannel, 0, len(channelIDs))
	for priority, id := range channelIDs {
		links = append(links, entities.RuleChannel{RuleID: rule.ID, ChannelID: id, Priority: priority})
	}
	if len(links) > 0 {
		if err := tx.Omit("Channel").Create(&links).Error; err != nil {
			return fmt.Errorf("failed to attach channels to rule %s: %w", rule.ID, err)
		}
	}

	rule.Recipients = recipients
	rule.Channels = links
	return nil
}

func loadRecipients(tx *gorm.DB, ids []string) ([]entities.Recipient, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var found []entities.Recipient
	if err := tx.Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	byID := make(map[string]entities.Recipient, len(found))
	for i := range found {
		byID[found[i].ID] = found[i]
	}
	ordered := make([]entities.Recipient, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return nil, errors.WithCategory(fmt.Errorf("recipient %s: %w", id, ErrRecipientNotFound),
				errors.CategoryValidation, "attach recipients")
		}
		ordered = append(ordered, rec)
	}
	return ordered, nil
}

func checkChannelsExist(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var found []string
	if err := tx.Model(&entities.Channel{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	known := make(map[string]struct{}, len(found))
	for _, id := range found {
		known[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return errors.WithCategory(fmt.Errorf("channel %s: %w", id, ErrChannelNotFound),
				errors.CategoryValidation, "attach channels")
		}
	}
	return nil
}

// dedupe drops repeated and empty IDs, keeping first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
