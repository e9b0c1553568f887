package repository

import (
	"fmt"

	"github.com/tphakala/notifyroute/internal/errors"
	"gorm.io/gorm"
)

// Sentinel errors returned by the repositories.
var (
	ErrChannelNotFound     = errors.New("notification channel not found")
	ErrTemplateNotFound    = errors.New("notification template not found")
	ErrRecipientNotFound   = errors.New("notification recipient not found")
	ErrRuleNotFound        = errors.New("notification rule not found")
	ErrDeliveryLogNotFound = errors.New("delivery log not found")
	// ErrDuplicateName is returned when a unique name or (type, address)
	// pair is already taken.
	ErrDuplicateName = errors.New("name must be unique")
)

// IsNotFound reports whether err is any of the repository not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrRecipientNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrDeliveryLogNotFound)
}

// translateWriteErr maps driver unique-constraint errors onto ErrDuplicateName.
// The DB must be opened with TranslateError enabled.
func translateWriteErr(err error, op string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.WithCategory(ErrDuplicateName, errors.CategoryConflict, op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
