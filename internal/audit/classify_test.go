package audit_test

import (
	"testing"

	"github.com/roadscope/rs-fleet/internal/audit"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name string
		rec  audit.ImmutableAuditRecord
		want audit.Severity
	}{
		{
			"security is always critical",
			audit.ImmutableAuditRecord{AuditEvent: audit.AuditEvent{EventType: audit.EventSecurity, Sensitivity: audit.SensitivityRestricted}},
			audit.SeverityCritical,
		},
		{
			"failed auth",
			audit.ImmutableAuditRecord{AuditEvent: audit.AuditEvent{EventType: audit.EventAuth, Result: audit.ResultFailure}},
			audit.SeverityHigh,
		},
		{
			"restricted data",
			audit.ImmutableAuditRecord{AuditEvent: audit.AuditEvent{EventType: audit.EventDataAccess, Result: audit.ResultSuccess, Sensitivity: audit.SensitivityRestricted}},
			audit.SeverityHigh,
		},
		{
			"admin action",
			audit.ImmutableAuditRecord{AuditEvent: audit.AuditEvent{EventType: audit.EventAdminAction, Result: audit.ResultSuccess}},
			audit.SeverityMedium,
		},
		{
			"routine access",
			audit.ImmutableAuditRecord{AuditEvent: audit.AuditEvent{EventType: audit.EventDataAccess, Result: audit.ResultSuccess, Sensitivity: audit.SensitivityInternal}},
			audit.SeverityInfo,
		},
		{
			"successful auth",
			audit.ImmutableAuditRecord{AuditEvent: audit.AuditEvent{EventType: audit.EventAuth, Result: audit.ResultSuccess, Sensitivity: audit.SensitivityInternal}},
			audit.SeverityInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audit.ClassifySeverity(&tt.rec); got != tt.want {
				t.Errorf("ClassifySeverity = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSIEMTags(t *testing.T) {
	rec := &audit.ImmutableAuditRecord{
		AuditEvent: audit.AuditEvent{
			EventType:   audit.EventAuth,
			Action:      audit.ActionLoginFailure,
			UserRoles:   []string{"driver", "dispatcher"},
			Result:      audit.ResultFailure,
			Sensitivity: audit.SensitivityConfidential,
		},
	}

	got := audit.SIEMTags(rec)
	want := []string{
		"event:AUTH_EVENT",
		"action:LOGIN_FAILURE",
		"result:FAILURE",
		"sensitivity:CONFIDENTIAL",
		"role:driver",
		"role:dispatcher",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tags %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
