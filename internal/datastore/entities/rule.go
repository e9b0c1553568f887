package entities

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultFailoverTimeoutSec is the escalation step delay for new rules.
const DefaultFailoverTimeoutSec = 30

// Rule matches events and fans them out to recipients over an ordered list
// of channels.
type Rule struct {
	ID                 string          `gorm:"primaryKey;size:36" json:"id"`
	Name               string          `gorm:"size:255;not null;uniqueIndex:uq_notification_rule_name" json:"name"`
	Enabled            bool            `gorm:"not null;index" json:"enabled"`
	SeverityFilter     IncludeList     `gorm:"serializer:json;type:text" json:"severity_filter"`
	TagFilter          TagFilter       `gorm:"serializer:json;type:text" json:"tag_filter"`
	HostFilter         IncludeList     `gorm:"serializer:json;type:text" json:"host_filter"`
	FailoverTimeoutSec int             `gorm:"not null" json:"failover_timeout_sec"`
	SilenceWindows     []SilenceWindow `gorm:"serializer:json;type:text" json:"silence_windows"`
	RateLimit          *RateLimit      `gorm:"serializer:json;type:text" json:"rate_limit"`
	DedupWindowSec     int             `gorm:"not null;default:0" json:"dedup_window_sec"`
	TemplateID         *string         `gorm:"size:36;index" json:"template_id"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Template   *Template     `gorm:"foreignKey:TemplateID;constraint:OnDelete:SET NULL" json:"-"`
	Recipients []Recipient   `gorm:"many2many:notification_rule_recipients;constraint:OnDelete:CASCADE" json:"-"`
	Channels   []RuleChannel `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (Rule) TableName() string {
	return "notification_rules"
}

// BeforeCreate assigns a UUID when the caller did not.
func (r *Rule) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RuleChannel attaches a channel to a rule at an escalation priority.
// Priority 0 fires first.
type RuleChannel struct {
	RuleID    string   `gorm:"primaryKey;size:36;index:ix_notification_rule_channels_order,priority:1" json:"rule_id"`
	ChannelID string   `gorm:"primaryKey;size:36" json:"channel_id"`
	Priority  int      `gorm:"not null;default:0;index:ix_notification_rule_channels_order,priority:2" json:"priority"`
	Channel   *Channel `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (RuleChannel) TableName() string {
	return "notification_rule_channels"
}
