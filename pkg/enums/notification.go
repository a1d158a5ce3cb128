package enums

import "fmt"

// NotificationType identifies the policy event behind an operator notification.
type NotificationType string

const (
	NotificationBudgetCapApplied NotificationType = "budget_cap_applied"
	NotificationBudgetCapReached NotificationType = "budget_cap_reached"
	NotificationAdPaused         NotificationType = "ad_paused"
	NotificationBudgetReduced    NotificationType = "budget_reduced"
	NotificationRunFailed        NotificationType = "run_failed"
)

var validNotificationTypes = []NotificationType{
	NotificationBudgetCapApplied,
	NotificationBudgetCapReached,
	NotificationAdPaused,
	NotificationBudgetReduced,
	NotificationRunFailed,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// Severity grades a notification for routing in the sink.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the value is a recognized severity.
func (s Severity) IsValid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}
