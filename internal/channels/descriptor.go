package channels

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Descriptor is a typed transport target. Each kind renders its own
// shoutrrr service URL.
type Descriptor interface {
	Kind() Kind
	ServiceURL() (string, error)
	// Redacted is a loggable form without credentials.
	Redacted() string
}

// DefaultSMTPPort is used when an email channel has no port.
const DefaultSMTPPort = 587

// EmailDescriptor sends through an SMTP relay.
type EmailDescriptor struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

func (d EmailDescriptor) Kind() Kind { return KindEmail }

func (d EmailDescriptor) ServiceURL() (string, error) {
	if d.Host == "" || d.User == "" || d.Password == "" || d.To == "" {
		return "", fmt.Errorf("email descriptor incomplete")
	}
	port := d.Port
	if port <= 0 {
		port = DefaultSMTPPort
	}
	from := d.From
	if from == "" {
		from = d.User
	}
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", d.To)
	u := url.URL{
		Scheme:   "smtp",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(port)),
		Path:     "/",
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

func (d EmailDescriptor) Redacted() string {
	return fmt.Sprintf("smtp://%s:%d to %s", d.Host, d.Port, d.To)
}

// TelegramDescriptor posts through the Telegram bot API.
type TelegramDescriptor struct {
	Token  string
	ChatID string
}

func (d TelegramDescriptor) Kind() Kind { return KindTelegram }

func (d TelegramDescriptor) ServiceURL() (string, error) {
	if d.Token == "" || d.ChatID == "" {
		return "", fmt.Errorf("telegram descriptor incomplete")
	}
	return fmt.Sprintf("telegram://%s@telegram/?chats=%s", d.Token, url.QueryEscape(d.ChatID)), nil
}

func (d TelegramDescriptor) Redacted() string {
	return "telegram chat " + d.ChatID
}

// WebhookDescriptor posts to a plain HTTP endpoint.
type WebhookDescriptor struct {
	URL string
}

func (d WebhookDescriptor) Kind() Kind { return KindWebhook }

func (d WebhookDescriptor) ServiceURL() (string, error) {
	if d.URL == "" {
		return "", fmt.Errorf("webhook descriptor has no url")
	}
	return genericURL(d.URL), nil
}

func (d WebhookDescriptor) Redacted() string { return redact(d.URL) }

// SlackDescriptor posts to a Slack incoming webhook.
type SlackDescriptor struct {
	WebhookURL string
}

func (d SlackDescriptor) Kind() Kind { return KindSlack }

// ServiceURL converts https://hooks.slack.com/services/T/B/X into the
// slack://hook:T/B/X@webhook form. slack:// URLs pass through and other
// HTTP endpoints are posted to generically.
func (d SlackDescriptor) ServiceURL() (string, error) {
	if d.WebhookURL == "" {
		return "", fmt.Errorf("slack descriptor has no webhook")
	}
	u, err := url.Parse(d.WebhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid slack webhook: %w", err)
	}
	if strings.EqualFold(u.Host, "hooks.slack.com") && strings.HasPrefix(u.Path, "/services/") {
		token := strings.Trim(strings.TrimPrefix(u.Path, "/services/"), "/")
		if strings.Count(token, "/") != 2 {
			return "", fmt.Errorf("slack webhook path must be /services/T/B/X")
		}
		return "slack://hook:" + token + "@webhook", nil
	}
	return genericURL(d.WebhookURL), nil
}

func (d SlackDescriptor) Redacted() string { return redact(d.WebhookURL) }

// SMSDescriptor sends through a preconfigured provider URL.
type SMSDescriptor struct {
	ProviderURL string
	To          string
}

func (d SMSDescriptor) Kind() Kind { return KindSMS }

// ServiceURL substitutes {to} in the provider URL with the recipient number.
func (d SMSDescriptor) ServiceURL() (string, error) {
	if d.ProviderURL == "" {
		return "", fmt.Errorf("sms descriptor has no provider url")
	}
	return genericURL(strings.ReplaceAll(d.ProviderURL, "{to}", url.QueryEscape(d.To))), nil
}

func (d SMSDescriptor) Redacted() string { return redact(d.ProviderURL) }

// RawDescriptor is an explicit service URL from the channel config. It wins
// over every kind-specific field.
type RawDescriptor struct {
	ChannelKind Kind
	URL         string
}

func (d RawDescriptor) Kind() Kind { return d.ChannelKind }

func (d RawDescriptor) ServiceURL() (string, error) {
	if d.URL == "" {
		return "", fmt.Errorf("raw descriptor has no url")
	}
	return genericURL(d.URL), nil
}

func (d RawDescriptor) Redacted() string { return redact(d.URL) }

// genericURL prefixes plain HTTP endpoints with generic+ so shoutrrr posts
// to them; service URLs such as ntfy:// pass through untouched.
func genericURL(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return "generic+" + raw
	}
	return raw
}

// ServiceURLs renders every descriptor, failing on the first that cannot
// be rendered.
func ServiceURLs(descriptors []Descriptor) ([]string, error) {
	urls := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		u, err := d.ServiceURL()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Kind(), err)
		}
		urls = append(urls, u)
	}
	return urls, nil
}
