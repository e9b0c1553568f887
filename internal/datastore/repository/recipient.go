package repository

import (
	"context"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

// RecipientRepository handles recipient CRUD.
type RecipientRepository interface {
	ListRecipients(ctx context.Context, filter RecipientFilter) ([]entities.Recipient, error)
	GetRecipient(ctx context.Context, id string) (*entities.Recipient, error)
	CreateRecipient(ctx context.Context, recipient *entities.Recipient) error
	UpdateRecipient(ctx context.Context, recipient *entities.Recipient) error
	DeleteRecipient(ctx context.Context, id string) error
}

// RecipientFilter controls recipient listing queries.
type RecipientFilter struct {
	Status string
	Type   string
}
