package routing

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/delivery"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/testutil/fixtures"
)

type enqueued struct {
	name      string
	task      delivery.Task
	raw       any
	countdown time.Duration
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueued
	// failOn makes the n-th call (1-based) fail.
	failOn int
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, name string, payload any, _ string, countdown time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls)+1 == f.failOn {
		f.failOn = -1
		return "", errors.New("redis unavailable")
	}
	e := enqueued{name: name, raw: payload, countdown: countdown}
	if t, ok := payload.(delivery.Task); ok {
		e.task = t
	}
	f.calls = append(f.calls, e)
	return "task", nil
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func newService(store *repository.Store, enq *fakeEnqueuer) (*Service, *Router) {
	router := NewRouter(store.Rules, testLogger())
	return NewService(router, NewScheduler(enq, "notifications", testLogger()), testLogger()), router
}

func strPtr(s string) *string { return &s }

func TestRuleMatches(t *testing.T) {
	t.Parallel()

	var tagged entities.Rule
	require.NoError(t, json.Unmarshal([]byte(`{
		"enabled": true,
		"severity_filter": {"include": ["critical", "warning"]},
		"host_filter": ["db-1"],
		"tag_filter": {"env": "prod", "team": ["ops", "sre"], "tier": 1}
	}`), &tagged))

	var emptyTag entities.Rule
	require.NoError(t, json.Unmarshal([]byte(`{"enabled": true, "tag_filter": {"env": ""}}`), &emptyTag))

	tests := []struct {
		name     string
		rule     entities.Rule
		severity string
		tags     map[string]any
		host     string
		want     bool
	}{
		{"no filters", entities.Rule{Enabled: true}, "", nil, "", true},
		{"disabled", entities.Rule{Enabled: false}, "", nil, "", false},
		{"all filters pass", tagged, "critical", map[string]any{"env": "prod", "team": "sre", "tier": 1.0}, "db-1", true},
		{"severity rejected", tagged, "info", map[string]any{"env": "prod", "team": "ops", "tier": 1.0}, "db-1", false},
		{"missing severity rejected", tagged, "", nil, "db-1", false},
		{"host rejected", tagged, "critical", nil, "web-1", false},
		{"tag scalar mismatch", tagged, "critical", map[string]any{"env": "dev", "team": "ops", "tier": 1.0}, "db-1", false},
		{"tag list mismatch", tagged, "warning", map[string]any{"env": "prod", "team": "dev", "tier": 1.0}, "db-1", false},
		{"tag missing key", tagged, "warning", map[string]any{"env": "prod", "team": "ops"}, "db-1", false},
		{"numeric tag compares as string", tagged, "warning", map[string]any{"env": "prod", "team": "ops", "tier": "1"}, "db-1", true},
		{"empty filter value rejects absent key", emptyTag, "", map[string]any{"other": "x"}, "", false},
		{"empty filter value rejects null", emptyTag, "", map[string]any{"env": nil}, "", false},
		{"empty filter value matches empty string", emptyTag, "", map[string]any{"env": ""}, "", true},
		{"untagged event skips tag filter", tagged, "critical", nil, "db-1", true},
		{"empty tags skip tag filter", tagged, "critical", map[string]any{}, "db-1", true},
		{"empty include list is absent", entities.Rule{Enabled: true, SeverityFilter: entities.IncludeList{}}, "anything", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RuleMatches(&tt.rule, tt.severity, tt.tags, tt.host))
		})
	}
}

func TestBuildDeliveryPlan_OneItemPerRecipient(t *testing.T) {
	store := fixtures.NewStore(t)
	c1 := fixtures.Webhook(t, store, "https://example.com/1")
	c2 := fixtures.Webhook(t, store, "https://example.com/2")
	c3 := fixtures.Webhook(t, store, "https://example.com/3")
	p1 := fixtures.Recipient(t, store, "p1")
	p2 := fixtures.Recipient(t, store, "p2")

	rule := fixtures.Rule(t, store, &entities.Rule{FailoverTimeoutSec: 45},
		[]*entities.Recipient{p1, p2}, []*entities.Channel{c3, c1, c2})

	_, router := newService(store, &fakeEnqueuer{})
	plan, err := router.BuildDeliveryPlan(t.Context(), Event{EventID: "evt-1", Context: map[string]any{"host": "db-1"}})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	var recipients []string
	for _, item := range plan {
		recipients = append(recipients, item.RecipientID)
		assert.Equal(t, rule.ID, item.RuleID)
		assert.Equal(t, "evt-1", item.EventID)
		assert.Equal(t, []string{c3.ID, c1.ID, c2.ID}, item.ChannelIDs, "priority order is attachment order")
		assert.Equal(t, 45, item.FailoverTimeoutSec)
		assert.Equal(t, "db-1", item.Context["host"])
	}
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, recipients)
}

func TestBuildDeliveryPlan_SkipsIncompleteRules(t *testing.T) {
	store := fixtures.NewStore(t)
	ch := fixtures.Webhook(t, store, "https://example.com")
	rec := fixtures.Recipient(t, store, "p1")

	fixtures.Rule(t, store, &entities.Rule{Name: "no-channels"}, []*entities.Recipient{rec}, nil)
	fixtures.Rule(t, store, &entities.Rule{Name: "no-recipients"}, nil, []*entities.Channel{ch})

	_, router := newService(store, &fakeEnqueuer{})
	plan, err := router.BuildDeliveryPlan(t.Context(), Event{EventID: "e"})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestBuildDeliveryPlan_DisabledRuleIgnored(t *testing.T) {
	store := fixtures.NewStore(t)
	ch := fixtures.Webhook(t, store, "https://example.com")
	rec := fixtures.Recipient(t, store, "p1")
	rule := fixtures.Rule(t, store, &entities.Rule{}, []*entities.Recipient{rec}, []*entities.Channel{ch})

	rule.Enabled = false
	require.NoError(t, store.Rules.UpdateRule(t.Context(), rule, nil))

	_, router := newService(store, &fakeEnqueuer{})
	plan, err := router.BuildDeliveryPlan(t.Context(), Event{EventID: "e"})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestIngest_EndToEndEscalation(t *testing.T) {
	store := fixtures.NewStore(t)
	c1 := fixtures.Webhook(t, store, "https://example.com/c1")
	c2 := fixtures.Webhook(t, store, "https://example.com/c2")
	p1 := fixtures.Recipient(t, store, "p1")
	rule := fixtures.Rule(t, store, &entities.Rule{
		SeverityFilter:     entities.IncludeList{"critical"},
		FailoverTimeoutSec: 30,
	}, []*entities.Recipient{p1}, []*entities.Channel{c1, c2})

	enq := &fakeEnqueuer{}
	svc, router := newService(store, enq)

	plan, err := router.BuildDeliveryPlan(t.Context(), Event{EventID: "evt", Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, rule.ID, plan[0].RuleID)
	assert.Equal(t, p1.ID, plan[0].RecipientID)
	assert.Equal(t, []string{c1.ID, c2.ID}, plan[0].ChannelIDs)

	receipt, err := svc.Ingest(t.Context(), Event{
		EventID:  "evt",
		Severity: "critical",
		Subject:  strPtr("DB down"),
		Context:  map[string]any{"host": "db-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, &Receipt{Status: "queued", EventID: "evt", TasksEnqueued: 2}, receipt)

	require.Len(t, enq.calls, 2)
	assert.Equal(t, delivery.TaskProcessEvent, enq.calls[0].name)
	assert.Equal(t, c1.ID, enq.calls[0].task.ChannelID)
	assert.Equal(t, time.Duration(0), enq.calls[0].countdown)
	assert.Equal(t, c2.ID, enq.calls[1].task.ChannelID)
	assert.Equal(t, 30*time.Second, enq.calls[1].countdown)
	assert.Equal(t, "DB down", *enq.calls[1].task.Subject)
	assert.Equal(t, p1.ID, enq.calls[1].task.RecipientID)
	assert.Equal(t, rule.ID, enq.calls[1].task.RuleID)

	_, err = svc.Ingest(t.Context(), Event{EventID: "evt-2", Severity: "info"})
	require.ErrorIs(t, err, ErrNoMatch)
	assert.Equal(t, errors.CategoryNotFound, errors.CategoryOf(err))
	assert.Equal(t, "ingest event: no matching rules or recipients", err.Error())
	assert.Len(t, enq.calls, 2, "unmatched events enqueue nothing")
}

func TestIngest_GeneratesEventIDAndCountsOnlyEnqueued(t *testing.T) {
	store := fixtures.NewStore(t)
	c1 := fixtures.Webhook(t, store, "https://example.com/c1")
	c2 := fixtures.Webhook(t, store, "https://example.com/c2")
	c3 := fixtures.Webhook(t, store, "https://example.com/c3")
	p1 := fixtures.Recipient(t, store, "p1")
	fixtures.Rule(t, store, &entities.Rule{FailoverTimeoutSec: 10},
		[]*entities.Recipient{p1}, []*entities.Channel{c1, c2, c3})

	enq := &fakeEnqueuer{failOn: 2}
	svc, _ := newService(store, enq)

	receipt, err := svc.Ingest(t.Context(), Event{})
	require.NoError(t, err)
	assert.Len(t, receipt.EventID, 36)
	assert.Equal(t, 2, receipt.TasksEnqueued)

	require.Len(t, enq.calls, 2)
	assert.Equal(t, c1.ID, enq.calls[0].task.ChannelID)
	assert.Equal(t, c3.ID, enq.calls[1].task.ChannelID)
	assert.Equal(t, 20*time.Second, enq.calls[1].countdown, "delay keeps accumulating past a failed enqueue")
	assert.Equal(t, receipt.EventID, enq.calls[0].task.EventID)
}

func TestTestRule(t *testing.T) {
	store := fixtures.NewStore(t)
	ch := fixtures.Webhook(t, store, "https://example.com")
	p1 := fixtures.Recipient(t, store, "p1")
	p2 := fixtures.Recipient(t, store, "p2")

	// Filters would reject the event; a rule test ignores them.
	rule := fixtures.Rule(t, store, &entities.Rule{SeverityFilter: entities.IncludeList{"critical"}},
		[]*entities.Recipient{p1, p2}, []*entities.Channel{ch})
	empty := fixtures.Rule(t, store, &entities.Rule{}, []*entities.Recipient{p1}, nil)

	enq := &fakeEnqueuer{}
	svc, _ := newService(store, enq)

	receipt, err := svc.TestRule(t.Context(), rule.ID, Event{Severity: "info"})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.TasksEnqueued)
	assert.Equal(t, "queued", receipt.Status)

	_, err = svc.TestRule(t.Context(), empty.ID, Event{})
	require.ErrorIs(t, err, ErrRuleEmpty)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))

	_, err = svc.TestRule(t.Context(), "missing", Event{})
	require.ErrorIs(t, err, repository.ErrRuleNotFound)
}

func TestScheduler_ScheduleTest(t *testing.T) {
	t.Parallel()

	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, "notifications", testLogger())

	require.NoError(t, s.ScheduleTest(t.Context(), channels.TestTask{EventID: "test-1", ChannelID: "c"}))
	require.Len(t, enq.calls, 1)
	assert.Equal(t, delivery.TaskSendTest, enq.calls[0].name)
	task, ok := enq.calls[0].raw.(channels.TestTask)
	require.True(t, ok)
	assert.Equal(t, "test-1", task.EventID)
}
