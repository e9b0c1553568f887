package repository

import (
	"context"
	"time"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

// ChannelRepository handles channel CRUD.
type ChannelRepository interface {
	ListChannels(ctx context.Context, filter ChannelFilter) ([]entities.Channel, error)
	GetChannel(ctx context.Context, id string) (*entities.Channel, error)
	CreateChannel(ctx context.Context, channel *entities.Channel) error
	UpdateChannel(ctx context.Context, channel *entities.Channel) error
	DeleteChannel(ctx context.Context, id string) error
	// MarkTested stamps test_at after a test send.
	MarkTested(ctx context.Context, id string, at time.Time) error
}

// ChannelFilter controls channel listing queries.
type ChannelFilter struct {
	Enabled *bool
	Types   []string
}
