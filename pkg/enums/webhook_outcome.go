package enums

import "fmt"

// WebhookOutcome records how an inbound processor event was handled.
type WebhookOutcome string

const (
	WebhookOutcomeApplied             WebhookOutcome = "APPLIED"
	WebhookOutcomeIgnoredDuplicate    WebhookOutcome = "IGNORED_DUPLICATE"
	WebhookOutcomeIgnoredUnrecognized WebhookOutcome = "IGNORED_UNRECOGNIZED"
	WebhookOutcomeFailed              WebhookOutcome = "FAILED"
)

var validWebhookOutcomes = []WebhookOutcome{
	WebhookOutcomeApplied,
	WebhookOutcomeIgnoredDuplicate,
	WebhookOutcomeIgnoredUnrecognized,
	WebhookOutcomeFailed,
}

// String implements fmt.Stringer.
func (s WebhookOutcome) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known webhook outcome.
func (s WebhookOutcome) IsValid() bool {
	for _, candidate := range validWebhookOutcomes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWebhookOutcome converts raw input into WebhookOutcome.
func ParseWebhookOutcome(value string) (WebhookOutcome, error) {
	for _, candidate := range validWebhookOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook outcome %q", value)
}
