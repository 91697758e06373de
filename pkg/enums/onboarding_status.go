package enums

import "fmt"

// OnboardingStatus is the cached state of a vendor's connected account.
type OnboardingStatus string

const (
	OnboardingStatusNotStarted OnboardingStatus = "NOT_STARTED"
	OnboardingStatusPending    OnboardingStatus = "PENDING"
	OnboardingStatusActive     OnboardingStatus = "ACTIVE"
	OnboardingStatusRestricted OnboardingStatus = "RESTRICTED"
)

var validOnboardingStatuses = []OnboardingStatus{
	OnboardingStatusNotStarted,
	OnboardingStatusPending,
	OnboardingStatusActive,
	OnboardingStatusRestricted,
}

// String implements fmt.Stringer.
func (s OnboardingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known onboarding status.
func (s OnboardingStatus) IsValid() bool {
	for _, candidate := range validOnboardingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOnboardingStatus converts raw input into OnboardingStatus.
func ParseOnboardingStatus(value string) (OnboardingStatus, error) {
	for _, candidate := range validOnboardingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid onboarding status %q", value)
}
