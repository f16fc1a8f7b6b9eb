package enums

import "fmt"

// WebhookInboxStatus tracks a queued webhook delivery.
type WebhookInboxStatus string

const (
	WebhookInboxQueued     WebhookInboxStatus = "queued"
	WebhookInboxProcessing WebhookInboxStatus = "processing"
	WebhookInboxDone       WebhookInboxStatus = "done"
	WebhookInboxFailed     WebhookInboxStatus = "failed"
)

var validWebhookInboxStatuses = []WebhookInboxStatus{
	WebhookInboxQueued,
	WebhookInboxProcessing,
	WebhookInboxDone,
	WebhookInboxFailed,
}

// String implements fmt.Stringer.
func (w WebhookInboxStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WebhookInboxStatus.
func (w WebhookInboxStatus) IsValid() bool {
	for _, candidate := range validWebhookInboxStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWebhookInboxStatus converts raw input into a WebhookInboxStatus.
func ParseWebhookInboxStatus(value string) (WebhookInboxStatus, error) {
	for _, candidate := range validWebhookInboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook inbox status %q", value)
}
