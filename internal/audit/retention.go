package audit

import "time"

// Retention tiers, in days. Compliance-sensitive records keep the 7 year
// horizon; security and authentication trails keep 3 years; everything
// else rolls off after 1 year.
const (
	RetentionCompliance = 2555
	RetentionSecurity   = 1095
	RetentionStandard   = 365

	// RetentionIndefinite marks records that never expire. The tier
	// table below never produces it; policy extensions may.
	RetentionIndefinite = -1
)

// RetentionDays resolves the retention tier for an event. Sensitivity
// outranks event type.
func RetentionDays(sensitivity Sensitivity, eventType EventType) int {
	switch {
	case sensitivity == SensitivityRestricted || sensitivity == SensitivityConfidential:
		return RetentionCompliance
	case eventType == EventSecurity || eventType == EventAuth:
		return RetentionSecurity
	default:
		return RetentionStandard
	}
}

// AutoDeleteAt derives the expiry timestamp from the record's creation
// time. Indefinite retention yields nil, which the retention sweep must
// treat as "never delete".
func AutoDeleteAt(createdAt time.Time, retentionDays int) *time.Time {
	if retentionDays < 0 {
		return nil
	}
	t := createdAt.Add(time.Duration(retentionDays) * 24 * time.Hour)
	return &t
}
