package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Channel is a configured transport. Config shape depends on Type and is
// validated before it is written.
type Channel struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	Name             string     `gorm:"size:255;not null;uniqueIndex:uq_notification_channel_name" json:"name"`
	Type             string     `gorm:"size:50;not null;index" json:"type"`
	Config           JSONMap    `gorm:"serializer:json;type:text" json:"config"`
	Enabled          bool       `gorm:"not null" json:"enabled"`
	Status           string     `gorm:"size:32;not null;default:'ok'" json:"status"`
	TestAt           *time.Time `json:"test_at"`
	ConcurrencyLimit *int       `json:"concurrency_limit"`
	RetryAttempts    int        `gorm:"not null" json:"retry_attempts"`
	RetryIntervalSec int        `gorm:"not null" json:"retry_interval_sec"`
	TimeoutSec       int        `gorm:"not null" json:"timeout_sec"`
	IsPrimary        bool       `gorm:"not null" json:"is_primary"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Channel) TableName() string {
	return "notification_channels"
}

// BeforeCreate assigns a UUID when the caller did not.
func (c *Channel) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
