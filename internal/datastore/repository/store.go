package repository

import "gorm.io/gorm"

// Store bundles the repositories over one database handle.
type Store struct {
	Channels   ChannelRepository
	Templates  TemplateRepository
	Recipients RecipientRepository
	Rules      RuleRepository
	Logs       DeliveryLogRepository
}

// NewStore builds every repository on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Channels:   NewChannelRepository(db),
		Templates:  NewTemplateRepository(db),
		Recipients: NewRecipientRepository(db),
		Rules:      NewRuleRepository(db),
		Logs:       NewDeliveryLogRepository(db),
	}
}
