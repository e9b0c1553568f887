package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"gorm.io/gorm"
)

type deliveryLogRepository struct {
	db *gorm.DB
}

// NewDeliveryLogRepository creates a new DeliveryLogRepository.
func NewDeliveryLogRepository(db *gorm.DB) DeliveryLogRepository {
	return &deliveryLogRepository{db: db}
}

// CreateDeliveryLog appends a log row. Attempt defaults to 1.
func (r *deliveryLogRepository) CreateDeliveryLog(ctx context.Context, entry *entities.DeliveryLog) error {
	if entry.Attempt < 1 {
		entry.Attempt = 1
	}
	if entry.EventID == "" {
		entry.EventID = "unknown"
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save delivery log: %w", err)
	}
	return nil
}

func (r *deliveryLogRepository) GetDeliveryLog(ctx context.Context, id string) (*entities.DeliveryLog, error) {
	var entry entities.DeliveryLog
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryLogNotFound
		}
		return nil, fmt.Errorf("failed to get delivery log %s: %w", id, err)
	}
	return &entry, nil
}

// ListDeliveryLogs returns log rows matching the filter, newest first.
func (r *deliveryLogRepository) ListDeliveryLogs(ctx context.Context, filter DeliveryLogFilter) ([]entities.DeliveryLog, error) {
	var items []entities.DeliveryLog
	query := r.db.WithContext(ctx)

	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.ChannelID != "" {
		query = query.Where("channel_id = ?", filter.ChannelID)
	}
	if filter.RecipientID != "" {
		query = query.Where("recipient_id = ?", filter.RecipientID)
	}
	if filter.EventID != "" {
		query = query.Where("event_id = ?", filter.EventID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	if err := query.Order("created_at DESC").Order("id DESC").Limit(clampLimit(filter.Limit)).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return items, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLogLimit
	case limit > MaxLogLimit:
		return MaxLogLimit
	default:
		return limit
	}
}
