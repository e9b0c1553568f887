package channels

import (
	"fmt"
	"strconv"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
)

// ErrNoTransportURL means nothing in the channel config or recipient
// address yields a usable transport URL. It is a terminal delivery failure.
var ErrNoTransportURL = errors.New("no transport url")

// MsgNoTransportURL is the delivery log message for ErrNoTransportURL.
const MsgNoTransportURL = "No transport URL"

// overrideKeys hold explicit service URLs, checked in order.
var overrideKeys = []string{"apprise_url", "shoutrrr_url"}

// Resolver turns a channel config and recipient address into descriptors.
type Resolver struct {
	// DefaultSMSURL is used by sms channels that carry no provider URL.
	DefaultSMSURL string
}

// Resolve returns the transport targets for one delivery. An explicit
// apprise_url (string or list) always wins; otherwise the kind decides.
func (r Resolver) Resolve(kind Kind, config entities.JSONMap, address string) ([]Descriptor, error) {
	for _, key := range overrideKeys {
		if urls := config.Strings(key); len(urls) > 0 {
			out := make([]Descriptor, 0, len(urls))
			for _, u := range urls {
				out = append(out, RawDescriptor{ChannelKind: kind, URL: u})
			}
			return out, nil
		}
	}

	var d Descriptor
	switch kind {
	case KindEmail:
		port := DefaultSMTPPort
		if p := config.String("port"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n <= 0 || n > 65535 {
				return nil, fmt.Errorf("invalid email port %q", p)
			}
			port = n
		}
		email := EmailDescriptor{
			Host:     config.String("host"),
			Port:     port,
			User:     config.String("user"),
			Password: config.String("password"),
			From:     config.String("from"),
			To:       address,
		}
		if email.Host != "" && email.User != "" && email.Password != "" && email.To != "" {
			d = email
		}
	case KindTelegram:
		chat := config.String("chat_id")
		if chat == "" {
			chat = address
		}
		if token := config.String("bot_token"); token != "" && chat != "" {
			d = TelegramDescriptor{Token: token, ChatID: chat}
		}
	case KindWebhook, KindHTTP, KindHTTPS:
		target := config.String("url")
		if target == "" {
			target = address
		}
		if target != "" {
			d = WebhookDescriptor{URL: target}
		}
	case KindSlack:
		hook := config.String("webhook")
		if hook == "" {
			hook = config.String("url")
		}
		if hook != "" {
			d = SlackDescriptor{WebhookURL: hook}
		}
	case KindSMS:
		provider := firstNonEmpty(config.String("twilio_url"), config.String("apprise_sms_url"),
			config.String("sms_url"), r.DefaultSMSURL)
		if provider != "" {
			d = SMSDescriptor{ProviderURL: provider, To: address}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, string(kind))
	}

	if d == nil {
		return nil, ErrNoTransportURL
	}
	return []Descriptor{d}, nil
}

// ResolveURLs resolves and renders service URLs in one step.
func (r Resolver) ResolveURLs(kind Kind, config entities.JSONMap, address string) ([]string, error) {
	descriptors, err := r.Resolve(kind, config, address)
	if err != nil {
		return nil, err
	}
	return ServiceURLs(descriptors)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
