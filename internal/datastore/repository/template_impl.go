package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"gorm.io/gorm"
)

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// ListTemplates returns templates, optionally limited to one locale.
func (r *templateRepository) ListTemplates(ctx context.Context, locale string) ([]entities.Template, error) {
	var templates []entities.Template
	query := r.db.WithContext(ctx)
	if locale != "" {
		query = query.Where("locale = ?", locale)
	}
	if err := query.Order("created_at DESC").Order("id ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) GetTemplate(ctx context.Context, id string) (*entities.Template, error) {
	var tmpl entities.Template
	if err := r.db.WithContext(ctx).First(&tmpl, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &tmpl, nil
}

func (r *templateRepository) CreateTemplate(ctx context.Context, tmpl *entities.Template) error {
	if tmpl.Locale == "" {
		tmpl.Locale = "en"
	}
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return translateWriteErr(err, "create template")
	}
	return nil
}

func (r *templateRepository) UpdateTemplate(ctx context.Context, tmpl *entities.Template) error {
	if tmpl.ID == "" {
		return fmt.Errorf("failed to update template: missing template ID")
	}
	result := r.db.WithContext(ctx).Model(tmpl).Select("*").Omit("created_at").Updates(tmpl)
	if result.Error != nil {
		return translateWriteErr(result.Error, "update template")
	}
	if result.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate deletes a template. Rules referencing it fall back to the
// event's own subject and body.
func (r *templateRepository) DeleteTemplate(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entities.Rule{}).Where("template_id = ?", id).Update("template_id", nil).Error; err != nil {
			return fmt.Errorf("failed to detach template %s from rules: %w", id, err)
		}
		result := tx.Delete(&entities.Template{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete template %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrTemplateNotFound
		}
		return nil
	})
}
