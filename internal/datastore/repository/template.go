package repository

import (
	"context"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
)

// TemplateRepository handles message template CRUD.
type TemplateRepository interface {
	ListTemplates(ctx context.Context, locale string) ([]entities.Template, error)
	GetTemplate(ctx context.Context, id string) (*entities.Template, error)
	CreateTemplate(ctx context.Context, tmpl *entities.Template) error
	UpdateTemplate(ctx context.Context, tmpl *entities.Template) error
	DeleteTemplate(ctx context.Context, id string) error
}
