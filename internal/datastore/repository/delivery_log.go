package repository

import (
	"context"
	"time"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

// DeliveryLogRepository is the append-only audit trail. There is no update
// or delete.
type DeliveryLogRepository interface {
	CreateDeliveryLog(ctx context.Context, entry *entities.DeliveryLog) error
	GetDeliveryLog(ctx context.Context, id string) (*entities.DeliveryLog, error)
	ListDeliveryLogs(ctx context.Context, filter DeliveryLogFilter) ([]entities.DeliveryLog, error)
}

// Limits applied to ListDeliveryLogs.
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 500
)

// DeliveryLogFilter controls log listing queries. Zero values are ignored.
type DeliveryLogFilter struct {
	RuleID      string
	ChannelID   string
	RecipientID string
	EventID     string
	Statuses    []string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	// Limit is clamped to [1, MaxLogLimit]; zero means DefaultLogLimit.
	Limit int
}
