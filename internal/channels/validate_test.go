package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind(" Slack ")
	require.NoError(t, err)
	assert.Equal(t, KindSlack, k)

	_, err = ParseKind("pager")
	require.ErrorIs(t, err, ErrUnsupportedKind)

	assert.True(t, KindHTTPS.IsWebhook())
	assert.False(t, KindEmail.IsWebhook())
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    Kind
		config  entities.JSONMap
		wantErr string
	}{
		{"email complete", KindEmail, entities.JSONMap{"host": "smtp", "user": "u", "password": "p"}, ""},
		{"email missing two", KindEmail, entities.JSONMap{"user": "u"}, "Email config missing fields: host, password"},
		{"email blank counts as missing", KindEmail, entities.JSONMap{"host": " ", "user": "u", "password": "p"}, "Email config missing fields: host"},
		{"telegram ok", KindTelegram, entities.JSONMap{"bot_token": "123:abc"}, ""},
		{"telegram missing token", KindTelegram, entities.JSONMap{"chat_id": "1"}, "Telegram config requires bot_token"},
		{"webhook ok", KindWebhook, entities.JSONMap{"url": "https://example.com/hook"}, ""},
		{"http alias", KindHTTP, entities.JSONMap{"url": "http://example.com"}, ""},
		{"webhook missing url", KindHTTPS, entities.JSONMap{}, "Webhook config requires url"},
		{"webhook no scheme", KindWebhook, entities.JSONMap{"url": "example.com/hook"}, "Webhook url is invalid"},
		{"slack empty", KindSlack, entities.JSONMap{}, ""},
		{"sms empty", KindSMS, nil, ""},
		{"override list", KindSlack, entities.JSONMap{"apprise_url": []any{"ntfy://ntfy.sh/ops"}}, ""},
		{"override wrong type", KindSlack, entities.JSONMap{"apprise_url": 42.0}, "apprise_url must be a string or a list of strings"},
		{"override bad entry", KindSlack, entities.JSONMap{"apprise_url": []any{"ok://x", 1.0}}, "apprise_url entries must be strings"},
		{"unsupported", Kind("pager"), entities.JSONMap{}, `unsupported channel type "pager"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateConfig(tt.kind, tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.kind, verr.Kind)
		})
	}
}

func TestValidateConfig_MissingFieldsListed(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(KindEmail, entities.JSONMap{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"host", "user", "password"}, verr.Missing)
}

func TestRedact(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://hooks.slack.com", redact("https://hooks.slack.com/services/T/B/secret"))
	assert.Equal(t, "tgram://…", redact("tgram://"))
	assert.Equal(t, "…", redact("no-scheme"))
}
