// Package channels validates channel configuration and resolves the
// transport URLs a channel sends through.
package channels

import (
	"fmt"
	"strings"

	"github.com/tphakala/notifyroute/internal/errors"
)

// Kind is the closed set of channel types.
type Kind string

const (
	KindEmail    Kind = "email"
	KindTelegram Kind = "telegram"
	KindWebhook  Kind = "webhook"
	KindHTTP     Kind = "http"
	KindHTTPS    Kind = "https"
	KindSlack    Kind = "slack"
	KindSMS      Kind = "sms"
)

// ErrUnsupportedKind is returned for channel types outside Kinds().
var ErrUnsupportedKind = errors.New("unsupported channel type")

// Kinds lists every supported kind in display order.
func Kinds() []Kind {
	return []Kind{KindEmail, KindTelegram, KindWebhook, KindHTTP, KindHTTPS, KindSlack, KindSMS}
}

// ParseKind normalizes s and checks it is a supported kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// IsWebhook reports whether k posts to a plain URL.
func (k Kind) IsWebhook() bool {
	return k == KindWebhook || k == KindHTTP || k == KindHTTPS
}

func (k Kind) String() string { return string(k) }
