package channels

// Schema describes every channel kind and its config fields for API clients.
type Schema struct {
	Kinds []KindSchema `json:"kinds"`
}

// KindSchema describes one channel kind.
type KindSchema struct {
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	Required []FieldSchema `json:"required"`
	Optional []FieldSchema `json:"optional,omitempty"`
}

// FieldSchema describes one config key.
type FieldSchema struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Type   string `json:"type"` // "string", "number", or "string[]"
	Secret bool   `json:"secret,omitempty"`
}

// GetSchema returns the channel config catalog.
func GetSchema() Schema {
	kinds := make([]KindSchema, 0, len(Kinds()))
	for _, k := range Kinds() {
		kinds = append(kinds, kindSchema(k))
	}
	return Schema{Kinds: kinds}
}

func kindSchema(k Kind) KindSchema {
	switch k {
	case KindEmail:
		return KindSchema{
			Name:  string(k),
			Label: "Email (SMTP)",
			Required: []FieldSchema{
				{Name: "host", Label: "SMTP Host", Type: "string"},
				{Name: "user", Label: "Username", Type: "string"},
				{Name: "password", Label: "Password", Type: "string", Secret: true},
			},
			Optional: append([]FieldSchema{
				{Name: "port", Label: "Port", Type: "number"},
				{Name: "from", Label: "Sender Address", Type: "string"},
			}, overrideFields()...),
		}
	case KindTelegram:
		return KindSchema{
			Name:  string(k),
			Label: "Telegram",
			Required: []FieldSchema{
				{Name: "bot_token", Label: "Bot Token", Type: "string", Secret: true},
			},
			Optional: append([]FieldSchema{
				{Name: "chat_id", Label: "Chat ID", Type: "string"},
			}, overrideFields()...),
		}
	case KindWebhook, KindHTTP, KindHTTPS:
		return KindSchema{
			Name:  string(k),
			Label: "Webhook",
			Required: []FieldSchema{
				{Name: "url", Label: "URL", Type: "string"},
			},
			Optional: overrideFields(),
		}
	case KindSlack:
		return KindSchema{
			Name:  string(k),
			Label: "Slack",
			Optional: append([]FieldSchema{
				{Name: "webhook", Label: "Incoming Webhook URL", Type: "string", Secret: true},
				{Name: "url", Label: "URL", Type: "string"},
			}, overrideFields()...),
		}
	case KindSMS:
		return KindSchema{
			Name:  string(k),
			Label: "SMS",
			Optional: append([]FieldSchema{
				{Name: "twilio_url", Label: "Twilio URL", Type: "string", Secret: true},
				{Name: "apprise_sms_url", Label: "Provider URL", Type: "string", Secret: true},
				{Name: "sms_url", Label: "SMS URL", Type: "string", Secret: true},
			}, overrideFields()...),
		}
	}
	return KindSchema{Name: string(k), Label: string(k)}
}

func overrideFields() []FieldSchema {
	fields := make([]FieldSchema, 0, len(overrideKeys))
	for _, key := range overrideKeys {
		fields = append(fields, FieldSchema{Name: key, Label: "Service URL", Type: "string[]", Secret: true})
	}
	return fields
}
