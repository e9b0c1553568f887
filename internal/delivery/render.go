package delivery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/k3a/html2text"
	"github.com/tphakala/notifyroute/internal/channels"
)

// placeholder matches {name}, {name:spec}, the {{ }} escapes and, last, any
// unbalanced brace.
var placeholder = regexp.MustCompile(`\{\{|\}\}|\{([^{}]*)\}|[{}]`)

var htmlTag = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// Render substitutes {placeholder} tokens from vars. If any placeholder has
// no value, or a brace is unbalanced, the template is returned unrendered,
// so a template that does not fit the event never fails a delivery. Names
// are matched exactly; "{ host }" does not refer to host.
func Render(tmpl string, vars map[string]any) string {
	missing := false
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		switch m {
		case "{{":
			return "{"
		case "}}":
			return "}"
		case "{", "}":
			missing = true
			return m
		}
		name := m[1 : len(m)-1]
		if i := strings.IndexAny(name, ":!"); i >= 0 {
			name = name[:i]
		}
		v, ok := vars[name]
		if !ok || name == "" {
			missing = true
			return m
		}
		return formatValue(v)
	})
	if missing {
		return tmpl
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Message is a rendered notification.
type Message struct {
	Title string
	Body  string
}

// RenderMessage renders subject and body for kind. Channels other than
// email get plain text when the body carries HTML markup.
func RenderMessage(kind channels.Kind, subject *string, body string, vars map[string]any) Message {
	msg := Message{Body: Render(body, vars)}
	if subject != nil {
		msg.Title = Render(*subject, vars)
	}
	if kind != channels.KindEmail && htmlTag.MatchString(msg.Body) {
		msg.Body = strings.TrimSpace(html2text.HTML2Text(msg.Body))
	}
	return msg
}
