package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"gorm.io/gorm"
)

// channelRepository implements ChannelRepository.
type channelRepository struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

// ListChannels returns channels matching the filter, newest first.
func (r *channelRepository) ListChannels(ctx context.Context, filter ChannelFilter) ([]entities.Channel, error) {
	var channels []entities.Channel
	query := r.db.WithContext(ctx)

	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}

	if err := query.Order("created_at DESC").Order("id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// GetChannel returns a channel by ID or ErrChannelNotFound.
func (r *channelRepository) GetChannel(ctx context.Context, id string) (*entities.Channel, error) {
	var channel entities.Channel
	if err := r.db.WithContext(ctx).First(&channel, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel %s: %w", id, err)
	}
	return &channel, nil
}

// CreateChannel inserts a channel. A taken name yields ErrDuplicateName.
func (r *channelRepository) CreateChannel(ctx context.Context, channel *entities.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return translateWriteErr(err, "create channel")
	}
	return nil
}

// UpdateChannel saves every column of an existing channel.
func (r *channelRepository) UpdateChannel(ctx context.Context, channel *entities.Channel) error {
	if channel.ID == "" {
		return fmt.Errorf("failed to update channel: missing channel ID")
	}
	result := r.db.WithContext(ctx).Model(channel).Select("*").Omit("created_at").Updates(channel)
	if result.Error != nil {
		return translateWriteErr(result.Error, "update channel")
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// DeleteChannel deletes a channel. Rule attachments cascade.
func (r *channelRepository) DeleteChannel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&entities.Channel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete channel %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// MarkTested sets test_at on a channel.
func (r *channelRepository) MarkTested(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Channel{}).Where("id = ?", id).Update("test_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark channel %s tested: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}
