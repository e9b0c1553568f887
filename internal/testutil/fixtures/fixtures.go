// Package fixtures seeds entity rows for package tests.
package fixtures

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/testutil"
)

// NewStore returns repositories over a fresh in-memory database.
func NewStore(t *testing.T) *repository.Store {
	t.Helper()
	return repository.NewStore(testutil.NewDB(t))
}

// Webhook creates an enabled webhook channel posting to url.
func Webhook(t *testing.T, store *repository.Store, url string) *entities.Channel {
	t.Helper()
	return Channel(t, store, &entities.Channel{
		Type:   "webhook",
		Config: entities.JSONMap{"url": url},
	})
}

// Channel creates an enabled ch, filling a unique name and the usual
// defaults.
func Channel(t *testing.T, store *repository.Store, ch *entities.Channel) *entities.Channel {
	t.Helper()
	if ch.Name == "" {
		ch.Name = "channel-" + uuid.NewString()[:8]
	}
	if ch.Type == "" {
		ch.Type = "webhook"
	}
	if ch.Status == "" {
		ch.Status = "ok"
	}
	if ch.RetryAttempts == 0 {
		ch.RetryAttempts = 3
	}
	if ch.RetryIntervalSec == 0 {
		ch.RetryIntervalSec = 30
	}
	ch.Enabled = true
	require.NoError(t, store.Channels.CreateChannel(t.Context(), ch))
	return ch
}

// DisabledChannel creates a disabled webhook channel.
func DisabledChannel(t *testing.T, store *repository.Store) *entities.Channel {
	t.Helper()
	ch := Webhook(t, store, "https://example.com/disabled")
	ch.Enabled = false
	require.NoError(t, store.Channels.UpdateChannel(t.Context(), ch))
	return ch
}

// Recipient creates an active recipient with address.
func Recipient(t *testing.T, store *repository.Store, address string, windows ...entities.SilenceWindow) *entities.Recipient {
	t.Helper()
	rec := &entities.Recipient{Type: "webhook", Address: address, SilenceWindows: windows}
	require.NoError(t, store.Recipients.CreateRecipient(t.Context(), rec))
	return rec
}

// Rule creates an enabled rule attached to recipients and channels, in
// escalation order.
func Rule(t *testing.T, store *repository.Store, rule *entities.Rule, recipients []*entities.Recipient, channels []*entities.Channel) *entities.Rule {
	t.Helper()
	if rule.Name == "" {
		rule.Name = "rule-" + uuid.NewString()[:8]
	}
	rule.Enabled = true
	if rule.FailoverTimeoutSec == 0 {
		rule.FailoverTimeoutSec = entities.DefaultFailoverTimeoutSec
	}

	var rel repository.RuleRelations
	for _, r := range recipients {
		rel.RecipientIDs = append(rel.RecipientIDs, r.ID)
	}
	for _, c := range channels {
		rel.ChannelIDs = append(rel.ChannelIDs, c.ID)
	}
	require.NoError(t, store.Rules.CreateRule(t.Context(), rule, rel))
	return rule
}
