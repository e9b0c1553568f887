package channels

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
)

// ValidationError reports a channel configuration the service refuses to
// store. It is a client error: never retried and never written to the
// delivery log.
type ValidationError struct {
	Kind    Kind
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(kind Kind, reason string, missing ...string) error {
	return errors.WithCategory(&ValidationError{Kind: kind, Missing: missing, Reason: reason},
		errors.CategoryValidation, "validate channel")
}

// ValidateConfig checks that config carries the fields kind requires.
func ValidateConfig(kind Kind, config entities.JSONMap) error {
	if err := validateOverrides(kind, config); err != nil {
		return err
	}

	switch kind {
	case KindEmail:
		var missing []string
		for _, field := range []string{"host", "user", "password"} {
			if config.String(field) == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return invalid(kind, "Email config missing fields: "+strings.Join(missing, ", "), missing...)
		}
	case KindTelegram:
		if config.String("bot_token") == "" {
			return invalid(kind, "Telegram config requires bot_token", "bot_token")
		}
	case KindWebhook, KindHTTP, KindHTTPS:
		raw := config.String("url")
		if raw == "" {
			return invalid(kind, "Webhook config requires url", "url")
		}
		if err := checkURL(raw); err != nil {
			return invalid(kind, "Webhook url is invalid: "+err.Error())
		}
	case KindSlack, KindSMS:
		// Optional fields only; resolution fails at send time if nothing usable is set.
	default:
		return invalid(kind, fmt.Sprintf("unsupported channel type %q", string(kind)))
	}
	return nil
}

// validateOverrides checks explicit transport URLs when present.
func validateOverrides(kind Kind, config entities.JSONMap) error {
	for _, key := range overrideKeys {
		v, ok := config[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
		case []any:
			for _, item := range t {
				if _, ok := item.(string); !ok {
					return invalid(kind, key+" entries must be strings")
				}
			}
		case []string:
		default:
			return invalid(kind, key+" must be a string or a list of strings")
		}
		for _, u := range config.Strings(key) {
			if err := checkURL(u); err != nil {
				return invalid(kind, key+" is invalid: "+err.Error())
			}
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return fmt.Errorf("missing scheme in %q", redact(raw))
	}
	return nil
}

// redact keeps scheme and host only, so secrets embedded in URLs do not end
// up in error messages or logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if i := strings.Index(raw, "://"); i > 0 {
			return raw[:i+3] + "…"
		}
		return "…"
	}
	return u.Scheme + "://" + u.Host
}
