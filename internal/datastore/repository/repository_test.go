package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/testutil"
)

func createChannel(t *testing.T, store *Store, name, kind string) *entities.Channel {
	t.Helper()
	ch := &entities.Channel{
		Name:             name,
		Type:             kind,
		Config:           entities.JSONMap{"url": "https://hooks.example.com/" + name},
		Enabled:          true,
		Status:           "ok",
		RetryAttempts:    3,
		RetryIntervalSec: 30,
		TimeoutSec:       10,
	}
	require.NoError(t, store.Channels.CreateChannel(t.Context(), ch))
	return ch
}

func createRecipient(t *testing.T, store *Store, address string) *entities.Recipient {
	t.Helper()
	rec := &entities.Recipient{Type: "email", Address: address}
	require.NoError(t, store.Recipients.CreateRecipient(t.Context(), rec))
	return rec
}

func TestChannelRepository_CRUD(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	ch := createChannel(t, store, "ops-webhook", "webhook")
	assert.Len(t, ch.ID, 36, "UUID assigned on create")

	got, err := store.Channels.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops-webhook", got.Name)
	assert.Equal(t, "https://hooks.example.com/ops-webhook", got.Config.String("url"))
	assert.True(t, got.Enabled)

	got.Enabled = false
	got.Config = entities.JSONMap{"url": "https://other.example.com"}
	require.NoError(t, store.Channels.UpdateChannel(ctx, got))

	updated, err := store.Channels.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled, "false must be written, not skipped as a zero value")
	assert.Equal(t, "https://other.example.com", updated.Config.String("url"))

	testedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Channels.MarkTested(ctx, ch.ID, testedAt))
	updated, err = store.Channels.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.TestAt)
	assert.True(t, testedAt.Equal(*updated.TestAt))

	require.NoError(t, store.Channels.DeleteChannel(ctx, ch.ID))
	_, err = store.Channels.GetChannel(ctx, ch.ID)
	require.ErrorIs(t, err, ErrChannelNotFound)
	require.ErrorIs(t, store.Channels.DeleteChannel(ctx, ch.ID), ErrChannelNotFound)
}

func TestChannelRepository_DuplicateName(t *testing.T) {
	store := NewStore(testutil.NewDB(t))

	createChannel(t, store, "primary", "webhook")
	err := store.Channels.CreateChannel(t.Context(), &entities.Channel{Name: "primary", Type: "slack"})
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.Equal(t, errors.CategoryConflict, errors.CategoryOf(err))
}

func TestChannelRepository_ListFilters(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	createChannel(t, store, "a", "webhook")
	createChannel(t, store, "b", "slack")
	off := createChannel(t, store, "c", "webhook")
	off.Enabled = false
	require.NoError(t, store.Channels.UpdateChannel(ctx, off))

	all, err := store.Channels.ListChannels(ctx, ChannelFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	enabled := true
	on, err := store.Channels.ListChannels(ctx, ChannelFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, on, 2)

	hooks, err := store.Channels.ListChannels(ctx, ChannelFilter{Types: []string{"webhook"}})
	require.NoError(t, err)
	assert.Len(t, hooks, 2)
}

func TestRecipientRepository_UniqueTypeAddress(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	rec := createRecipient(t, store, "oncall@example.com")
	assert.Equal(t, entities.RecipientStatusActive, rec.Status)

	err := store.Recipients.CreateRecipient(ctx, &entities.Recipient{Type: "email", Address: "oncall@example.com"})
	require.ErrorIs(t, err, ErrDuplicateName)

	// Same address under another type is a different recipient.
	require.NoError(t, store.Recipients.CreateRecipient(ctx, &entities.Recipient{Type: "sms", Address: "oncall@example.com"}))

	rec.Status = "blocked"
	rec.SilenceWindows = []entities.SilenceWindow{{Start: "22:00", End: "06:00"}}
	require.NoError(t, store.Recipients.UpdateRecipient(ctx, rec))

	got, err := store.Recipients.GetRecipient(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Suppressed())
	assert.Equal(t, []entities.SilenceWindow{{Start: "22:00", End: "06:00"}}, got.SilenceWindows)

	blocked, err := store.Recipients.ListRecipients(ctx, RecipientFilter{Status: "blocked"})
	require.NoError(t, err)
	assert.Len(t, blocked, 1)
}

func TestTemplateRepository_DeleteDetachesRules(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	subject := "[{severity}] {host}"
	tmpl := &entities.Template{Name: "default", Subject: &subject, Body: "{host} is down"}
	require.NoError(t, store.Templates.CreateTemplate(ctx, tmpl))
	assert.Equal(t, "en", tmpl.Locale)

	rule := &entities.Rule{Name: "with template", Enabled: true, TemplateID: &tmpl.ID}
	require.NoError(t, store.Rules.CreateRule(ctx, rule, RuleRelations{}))

	got, err := store.Rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Template)
	assert.Equal(t, "{host} is down", got.Template.Body)

	require.NoError(t, store.Templates.DeleteTemplate(ctx, tmpl.ID))
	got, err = store.Rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TemplateID)
	assert.Nil(t, got.Template)

	require.ErrorIs(t, store.Templates.DeleteTemplate(ctx, tmpl.ID), ErrTemplateNotFound)
}

func TestRuleRepository_CreateAndGet(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	c1 := createChannel(t, store, "c1", "webhook")
	c2 := createChannel(t, store, "c2", "slack")
	p1 := createRecipient(t, store, "p1@example.com")

	rule := &entities.Rule{
		Name:               "critical db",
		Enabled:            true,
		SeverityFilter:     entities.IncludeList{"critical"},
		TagFilter:          entities.TagFilter{"env": {"prod", "staging"}},
		FailoverTimeoutSec: 30,
		RateLimit:          &entities.RateLimit{Limit: 5, WindowSec: 60},
		DedupWindowSec:     300,
	}
	// C2 listed first: escalation order follows the request, not insert order.
	require.NoError(t, store.Rules.CreateRule(ctx, rule, RuleRelations{
		RecipientIDs: []string{p1.ID},
		ChannelIDs:   []string{c2.ID, c1.ID, c2.ID},
	}))
	assert.NotEmpty(t, rule.ID)

	got, err := store.Rules.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.IncludeList{"critical"}, got.SeverityFilter)
	assert.True(t, got.TagFilter["env"].Matches("staging"))
	assert.Equal(t, &entities.RateLimit{Limit: 5, WindowSec: 60}, got.RateLimit)
	require.Len(t, got.Recipients, 1)
	assert.Equal(t, p1.ID, got.Recipients[0].ID)
	require.Len(t, got.Channels, 2, "duplicate channel IDs collapse")
	assert.Equal(t, c2.ID, got.Channels[0].ChannelID)
	assert.Equal(t, 0, got.Channels[0].Priority)
	assert.Equal(t, c1.ID, got.Channels[1].ChannelID)
	require.NotNil(t, got.Channels[1].Channel)
	assert.Equal(t, "c1", got.Channels[1].Channel.Name)

	ids, err := store.Rules.OrderedChannelIDs(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID, c1.ID}, ids)
}

func TestRuleRepository_CreateRejectsUnknownAttachments(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	err := store.Rules.CreateRule(ctx, &entities.Rule{Name: "ghost"}, RuleRelations{ChannelIDs: []string{"missing"}})
	require.ErrorIs(t, err, ErrChannelNotFound)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))

	rules, err := store.Rules.ListRules(ctx, RuleFilter{})
	require.NoError(t, err)
	assert.Empty(t, rules, "transaction rolled back")
}

func TestRuleRepository_Update(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	c1 := createChannel(t, store, "c1", "webhook")
	c2 := createChannel(t, store, "c2", "webhook")
	p1 := createRecipient(t, store, "p1@example.com")
	p2 := createRecipient(t, store, "p2@example.com")

	rule := &entities.Rule{Name: "original", Enabled: true, FailoverTimeoutSec: 30}
	require.NoError(t, store.Rules.CreateRule(ctx, rule, RuleRelations{
		RecipientIDs: []string{p1.ID},
		ChannelIDs:   []string{c1.ID},
	}))

	t.Run("columns only keeps attachments", func(t *testing.T) {
		got, err := store.Rules.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		got.Name = "renamed"
		got.Enabled = false
		require.NoError(t, store.Rules.UpdateRule(ctx, got, nil))

		after, err := store.Rules.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", after.Name)
		assert.False(t, after.Enabled)
		assert.Len(t, after.Recipients, 1)
		assert.Len(t, after.Channels, 1)
	})

	t.Run("replace attachments", func(t *testing.T) {
		got, err := store.Rules.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		require.NoError(t, store.Rules.UpdateRule(ctx, got, &RuleRelations{
			RecipientIDs: []string{p1.ID, p2.ID},
			ChannelIDs:   []string{c2.ID, c1.ID},
		}))

		ids, err := store.Rules.OrderedChannelIDs(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{c2.ID, c1.ID}, ids)

		after, err := store.Rules.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Len(t, after.Recipients, 2)
	})

	t.Run("missing rule", func(t *testing.T) {
		err := store.Rules.UpdateRule(ctx, &entities.Rule{ID: "nope", Name: "x"}, nil)
		require.ErrorIs(t, err, ErrRuleNotFound)
	})
}

func TestRuleRepository_DeleteCascades(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := t.Context()

	c1 := createChannel(t, store, "c1", "webhook")
	p1 := createRecipient(t, store, "p1@example.com")
	rule := &entities.Rule{Name: "doomed", Enabled: true}
	require.NoError(t, store.Rules.CreateRule(ctx, rule, RuleRelations{RecipientIDs: []string{p1.ID}, ChannelIDs: []string{c1.ID}}))

	require.NoError(t, store.Rules.DeleteRule(ctx, rule.ID))
	_, err := store.Rules.GetRule(ctx, rule.ID)
	require.ErrorIs(t, err, ErrRuleNotFound)

	var links int64
	require.NoError(t, db.Model(&entities.RuleChannel{}).Where("rule_id = ?", rule.ID).Count(&links).Error)
	assert.Zero(t, links)

	// Channels and recipients outlive the rule.
	_, err = store.Channels.GetChannel(ctx, c1.ID)
	require.NoError(t, err)
	_, err = store.Recipients.GetRecipient(ctx, p1.ID)
	require.NoError(t, err)
}

func TestRuleRepository_DeletingChannelDetachesIt(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	c1 := createChannel(t, store, "c1", "webhook")
	c2 := createChannel(t, store, "c2", "webhook")
	rule := &entities.Rule{Name: "two step", Enabled: true}
	require.NoError(t, store.Rules.CreateRule(ctx, rule, RuleRelations{ChannelIDs: []string{c1.ID, c2.ID}}))

	require.NoError(t, store.Channels.DeleteChannel(ctx, c1.ID))

	ids, err := store.Rules.OrderedChannelIDs(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID}, ids)
}

func TestRuleRepository_ListEnabled(t *testing.T) {
	store := NewStore(testutil.NewDB(t))
	ctx := t.Context()

	for _, r := range []*entities.Rule{
		{Name: "Enabled1", Enabled: true},
		{Name: "Disabled1", Enabled: false},
		{Name: "Enabled2", Enabled: true},
	} {
		require.NoError(t, store.Rules.CreateRule(ctx, r, RuleRelations{}))
	}

	enabled := true
	rules, err := store.Rules.ListRules(ctx, RuleFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	for _, r := range rules {
		assert.True(t, r.Enabled)
	}
}

func TestDeliveryLogRepository(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db)
	ctx := t.Context()

	ruleID, chanA, chanB := "rule-1", "chan-a", "chan-b"
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := []struct {
		status  string
		channel string
		event   string
		at      time.Time
	}{
		{entities.StatusSuccess, chanA, "evt-1", base},
		{entities.StatusDeduped, chanA, "evt-1", base.Add(time.Minute)},
		{entities.StatusFail, chanB, "evt-2", base.Add(2 * time.Minute)},
		{entities.StatusRateLimited, chanB, "evt-3", base.Add(3 * time.Minute)},
	}
	for _, row := range rows {
		ch := row.channel
		entry := &entities.DeliveryLog{EventID: row.event, RuleID: &ruleID, ChannelID: &ch, Status: row.status, CreatedAt: row.at}
		require.NoError(t, store.Logs.CreateDeliveryLog(ctx, entry))
		assert.Equal(t, 1, entry.Attempt, "attempt defaults to 1")
	}

	t.Run("newest first", func(t *testing.T) {
		items, err := store.Logs.ListDeliveryLogs(ctx, DeliveryLogFilter{})
		require.NoError(t, err)
		require.Len(t, items, 4)
		assert.Equal(t, "evt-3", items[0].EventID)
	})

	t.Run("statuses", func(t *testing.T) {
		items, err := store.Logs.ListDeliveryLogs(ctx, DeliveryLogFilter{Statuses: []string{entities.StatusFail, entities.StatusDeduped}})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("channel and event", func(t *testing.T) {
		items, err := store.Logs.ListDeliveryLogs(ctx, DeliveryLogFilter{ChannelID: chanA, EventID: "evt-1"})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("created range", func(t *testing.T) {
		from, to := base.Add(30*time.Second), base.Add(2*time.Minute)
		items, err := store.Logs.ListDeliveryLogs(ctx, DeliveryLogFilter{CreatedFrom: &from, CreatedTo: &to})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("limit", func(t *testing.T) {
		items, err := store.Logs.ListDeliveryLogs(ctx, DeliveryLogFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("rows are immutable", func(t *testing.T) {
		items, err := store.Logs.ListDeliveryLogs(ctx, DeliveryLogFilter{Limit: 1})
		require.NoError(t, err)
		entry := items[0]
		entry.Status = entities.StatusSuccess
		err = db.Save(&entry).Error
		require.ErrorIs(t, err, entities.ErrDeliveryLogImmutable)

		got, err := store.Logs.GetDeliveryLog(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusRateLimited, got.Status)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Logs.GetDeliveryLog(ctx, "nope")
		require.ErrorIs(t, err, ErrDeliveryLogNotFound)
	})
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLogLimit, clampLimit(0))
	assert.Equal(t, MaxLogLimit, clampLimit(10_000))
	assert.Equal(t, 42, clampLimit(42))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(errors.Wrapf(ErrRuleNotFound, "lookup")))
	assert.False(t, IsNotFound(ErrDuplicateName))
}
