package model

// WebhookHeader - header key/value pair
type WebhookHeader struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WebhookConfig - one session event webhook target
type WebhookConfig struct {
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	Headers []WebhookHeader `json:"headers"`
	Body    string          `json:"body"`
	Events  []string        `json:"events"`
}

// Accepts reports whether the webhook subscribes to the event type.
func (c WebhookConfig) Accepts(eventType string) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
