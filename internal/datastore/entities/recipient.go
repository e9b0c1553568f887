package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecipientStatusActive is the default recipient status.
const RecipientStatusActive = "active"

// suppressingStatuses are recipient statuses that block every delivery.
var suppressingStatuses = map[string]struct{}{
	"blocked":  {},
	"opt-out":  {},
	"opt_out":  {},
	"disabled": {},
}

// Recipient is an address to notify. Unique on (type, address).
type Recipient struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	Type           string          `gorm:"size:50;not null;uniqueIndex:uq_notification_recipient_address,priority:1" json:"type"`
	Address        string          `gorm:"size:255;not null;uniqueIndex:uq_notification_recipient_address,priority:2" json:"address"`
	Status         string          `gorm:"size:32;not null;default:'active'" json:"status"`
	SilenceWindows []SilenceWindow `gorm:"serializer:json;type:text" json:"silence_windows"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Recipient) TableName() string {
	return "notification_recipients"
}

// BeforeCreate assigns a UUID when the caller did not.
func (r *Recipient) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Suppressed reports whether the recipient's status blocks delivery.
// Empty status counts as active.
func (r *Recipient) Suppressed() bool {
	_, ok := suppressingStatuses[strings.ToLower(strings.TrimSpace(r.Status))]
	return ok
}
