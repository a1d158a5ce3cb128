package enums

import "fmt"

// AuditSource maps to the audit_source enum in Postgres. The audit table is
// shared by every subsystem that mutates platform entities, so queries filter
// on source.
type AuditSource string

const (
	AuditSourceBudgetOptimization AuditSource = "BUDGET_OPTIMIZATION"
	AuditSourceIntradayGuard      AuditSource = "INTRADAY_GUARD"
	AuditSourceManual             AuditSource = "MANUAL"
)

var validAuditSources = []AuditSource{
	AuditSourceBudgetOptimization,
	AuditSourceIntradayGuard,
	AuditSourceManual,
}

// IsValid reports whether the value matches the canonical audit_source enum.
func (s AuditSource) IsValid() bool {
	for _, candidate := range validAuditSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAuditSource converts raw input into AuditSource.
func ParseAuditSource(value string) (AuditSource, error) {
	for _, candidate := range validAuditSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit source %q", value)
}

// AuditAction maps to the audit_action enum in Postgres.
type AuditAction string

const (
	AuditActionBudgetUpdated AuditAction = "budget_updated"
	AuditActionStatusUpdated AuditAction = "status_updated"
)

var validAuditActions = []AuditAction{
	AuditActionBudgetUpdated,
	AuditActionStatusUpdated,
}

// IsValid reports whether the value matches the canonical audit_action enum.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}
