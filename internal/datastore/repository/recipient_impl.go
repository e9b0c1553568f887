package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"gorm.io/gorm"
)

type recipientRepository struct {
	db *gorm.DB
}

// NewRecipientRepository creates a new RecipientRepository.
func NewRecipientRepository(db *gorm.DB) RecipientRepository {
	return &recipientRepository{db: db}
}

func (r *recipientRepository) ListRecipients(ctx context.Context, filter RecipientFilter) ([]entities.Recipient, error) {
	var recipients []entities.Recipient
	query := r.db.WithContext(ctx)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if err := query.Order("created_at DESC").Order("id ASC").Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

func (r *recipientRepository) GetRecipient(ctx context.Context, id string) (*entities.Recipient, error) {
	var recipient entities.Recipient
	if err := r.db.WithContext(ctx).First(&recipient, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to get recipient %s: %w", id, err)
	}
	return &recipient, nil
}

// CreateRecipient inserts a recipient. A taken (type, address) pair yields
// ErrDuplicateName.
func (r *recipientRepository) CreateRecipient(ctx context.Context, recipient *entities.Recipient) error {
	if recipient.Status == "" {
		recipient.Status = entities.RecipientStatusActive
	}
	if err := r.db.WithContext(ctx).Create(recipient).Error; err != nil {
		return translateWriteErr(err, "create recipient")
	}
	return nil
}

func (r *recipientRepository) UpdateRecipient(ctx context.Context, recipient *entities.Recipient) error {
	if recipient.ID == "" {
		return fmt.Errorf("failed to update recipient: missing recipient ID")
	}
	result := r.db.WithContext(ctx).Model(recipient).Select("*").Omit("created_at").Updates(recipient)
	if result.Error != nil {
		return translateWriteErr(result.Error, "update recipient")
	}
	if result.RowsAffected == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// DeleteRecipient deletes a recipient and its rule memberships.
func (r *recipientRepository) DeleteRecipient(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM notification_rule_recipients WHERE recipient_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to detach recipient %s from rules: %w", id, err)
		}
		result := tx.Delete(&entities.Recipient{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete recipient %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRecipientNotFound
		}
		return nil
	})
}
