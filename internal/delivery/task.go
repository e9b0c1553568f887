package delivery

// Task names registered on the delivery queue.
const (
	TaskProcessEvent = "notifications.process_event"
	TaskSendTest     = "notifications.send_test"
)

// Task is the payload of one (event, rule, channel, recipient) delivery.
type Task struct {
	EventID     string         `json:"event_id"`
	RuleID      string         `json:"rule_id"`
	ChannelID   string         `json:"channel_id"`
	RecipientID string         `json:"recipient_id"`
	Context     map[string]any `json:"context"`
	Subject     *string        `json:"subject"`
	Body        *string        `json:"body"`

	// Attempt is filled by the queue handler, starting at 1.
	Attempt int `json:"-"`
}
