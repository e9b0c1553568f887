package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tphakala/notifyroute/internal/channels"
)

func TestRender(t *testing.T) {
	t.Parallel()

	vars := map[string]any{
		"host":     "db-1",
		"severity": "critical",
		"load":     2.5,
		"count":    float64(3),
		"ok":       false,
		"missing":  nil,
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain text", "disk full", "disk full"},
		{"single placeholder", "{host} is down", "db-1 is down"},
		{"several placeholders", "[{severity}] {host}", "[critical] db-1"},
		{"numbers", "load {load} count {count}", "load 2.5 count 3"},
		{"bool", "ok={ok}", "ok=false"},
		{"nil value", "value={missing}", "value="},
		{"format spec ignored", "{load:.1f}", "2.5"},
		{"escaped braces", "{{literal}} {host}", "{literal} db-1"},
		{"unknown placeholder returns template", "{host} {region}", "{host} {region}"},
		{"positional placeholder returns template", "{} down", "{} down"},
		{"lone open brace returns template", "disk {host} at 90% {", "disk {host} at 90% {"},
		{"lone close brace returns template", "} {host}", "} {host}"},
		{"nested brace returns template", "{ho{st}", "{ho{st}"},
		{"padded name is not trimmed", "{ host }", "{ host }"},
		{"empty template", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Render(tt.template, vars))
		})
	}
}

func TestRender_NilVars(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "no vars", Render("no vars", nil))
	assert.Equal(t, "{host}", Render("{host}", nil))
}

func TestRenderMessage(t *testing.T) {
	t.Parallel()

	subject := "[{severity}] alert"
	vars := map[string]any{"severity": "warning", "host": "web-2"}
	html := "<p><b>{host}</b> is degraded</p>"

	email := RenderMessage(channels.KindEmail, &subject, html, vars)
	assert.Equal(t, "[warning] alert", email.Title)
	assert.Equal(t, "<p><b>web-2</b> is degraded</p>", email.Body, "email keeps markup")

	slack := RenderMessage(channels.KindSlack, &subject, html, vars)
	assert.Equal(t, "web-2 is degraded", slack.Body, "chat channels get plain text")

	noSubject := RenderMessage(channels.KindWebhook, nil, "{host} ok", vars)
	assert.Empty(t, noSubject.Title)
	assert.Equal(t, "web-2 ok", noSubject.Body)

	comparison := RenderMessage(channels.KindTelegram, nil, "load < 5 and > 1", vars)
	assert.Equal(t, "load < 5 and > 1", comparison.Body, "text that is not markup is untouched")
}
