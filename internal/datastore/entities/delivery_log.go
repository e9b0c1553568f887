package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Delivery log statuses.
const (
	StatusSuccess     = "success"
	StatusFail        = "fail"
	StatusSuppressed  = "suppressed"
	StatusDeduped     = "deduped"
	StatusRateLimited = "rate-limited"
)

// DeliveryLog is one immutable audit row per delivery outcome. Entity ids are
// kept as plain columns so rows survive deletion of the referenced entity and
// can record ids that never resolved.
type DeliveryLog struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	EventID      string    `gorm:"size:255;not null;index:ix_notification_delivery_logs_event" json:"event_id"`
	RuleID       *string   `gorm:"size:36;index" json:"rule_id"`
	ChannelID    *string   `gorm:"size:36;index" json:"channel_id"`
	RecipientID  *string   `gorm:"size:36;index" json:"recipient_id"`
	Status       string    `gorm:"size:32;not null;index:ix_notification_delivery_logs_status" json:"status"`
	Attempt      int       `gorm:"not null;default:1" json:"attempt"`
	LatencyMs    *int      `json:"latency_ms"`
	ResponseCode *int      `json:"response_code"`
	ResponseBody *string   `gorm:"type:text" json:"response_body"`
	ErrorMessage *string   `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (DeliveryLog) TableName() string {
	return "notification_delivery_logs"
}

// BeforeCreate assigns a UUID when the caller did not.
func (l *DeliveryLog) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// BeforeUpdate rejects any attempt to modify a written log row.
func (l *DeliveryLog) BeforeUpdate(*gorm.DB) error {
	return ErrDeliveryLogImmutable
}

// Models lists every entity for AutoMigrate, parents first.
func Models() []any {
	return []any{
		&Channel{},
		&Template{},
		&Recipient{},
		&Rule{},
		&RuleChannel{},
		&DeliveryLog{},
	}
}
