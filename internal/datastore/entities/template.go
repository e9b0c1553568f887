package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Template holds a subject and body with {placeholder} tokens.
type Template struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:uq_notification_template_name" json:"name"`
	Locale    string    `gorm:"size:5;not null;default:'en'" json:"locale"`
	Subject   *string   `gorm:"size:255" json:"subject"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Variables JSONMap   `gorm:"serializer:json;type:text" json:"variables"`
	ChannelID *string   `gorm:"size:36;index" json:"channel_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Template) TableName() string {
	return "notification_templates"
}

// BeforeCreate assigns a UUID when the caller did not.
func (t *Template) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
