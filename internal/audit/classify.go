package audit

import "fmt"

// Severity is the SIEM-facing priority derived from record content.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityInfo     Severity = "INFO"
)

// ClassifySeverity maps a record to its SIEM severity. Checks run in
// priority order; the first match wins.
func ClassifySeverity(rec *ImmutableAuditRecord) Severity {
	switch {
	case rec.EventType == EventSecurity:
		return SeverityCritical
	case rec.EventType == EventAuth && rec.Result == ResultFailure:
		return SeverityHigh
	case rec.Sensitivity == SensitivityRestricted:
		return SeverityHigh
	case rec.EventType == EventAdminAction:
		return SeverityMedium
	default:
		return SeverityInfo
	}
}

// SIEMTags derives the search tags forwarded alongside the record: the
// event/action/result/sensitivity facets plus one tag per actor role.
func SIEMTags(rec *ImmutableAuditRecord) []string {
	tags := make([]string, 0, 4+len(rec.UserRoles))
	tags = append(tags,
		fmt.Sprintf("event:%s", rec.EventType),
		fmt.Sprintf("action:%s", rec.Action),
		fmt.Sprintf("result:%s", rec.Result),
		fmt.Sprintf("sensitivity:%s", rec.Sensitivity),
	)
	for _, role := range rec.UserRoles {
		tags = append(tags, fmt.Sprintf("role:%s", role))
	}
	return tags
}
