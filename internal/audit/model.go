package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies what kind of activity an event records.
type EventType string

const (
	EventDataAccess       EventType = "DATA_ACCESS"
	EventDataModification EventType = "DATA_MODIFICATION"
	EventAuth             EventType = "AUTH_EVENT"
	EventAdminAction      EventType = "ADMIN_ACTION"
	EventPermissionChange EventType = "PERMISSION_CHANGE"
	EventSecurity         EventType = "SECURITY_EVENT"
	EventSystem           EventType = "SYSTEM_EVENT"
	EventCompliance       EventType = "COMPLIANCE_EVENT"
)

// Action is the verb performed. Closed set; new verbs are added here, not
// invented at call sites.
type Action string

const (
	ActionLoginSuccess     Action = "LOGIN_SUCCESS"
	ActionLoginFailure     Action = "LOGIN_FAILURE"
	ActionLogout           Action = "LOGOUT"
	ActionCreate           Action = "CREATE"
	ActionRead             Action = "READ"
	ActionUpdate           Action = "UPDATE"
	ActionDelete           Action = "DELETE"
	ActionSearch           Action = "SEARCH"
	ActionExport           Action = "EXPORT"
	ActionAccessDenied     Action = "ACCESS_DENIED"
	ActionPermissionGrant  Action = "PERMISSION_GRANT"
	ActionPermissionRevoke Action = "PERMISSION_REVOKE"
	ActionConfigChange     Action = "CONFIG_CHANGE"
	ActionChainRestart     Action = "CHAIN_RESTART"
)

type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultPartial Result = "PARTIAL"
)

// Sensitivity classifies how protected the underlying data/action is.
// It drives retention (see retention.go) and SIEM severity.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "PUBLIC"
	SensitivityInternal     Sensitivity = "INTERNAL"
	SensitivityConfidential Sensitivity = "CONFIDENTIAL"
	SensitivityRestricted   Sensitivity = "RESTRICTED"
)

// GeoLocation is coarse, city-level at most. Never precise coordinates.
type GeoLocation struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// AuditEvent is the caller-supplied input to the ledger.
type AuditEvent struct {
	EventType   EventType      `json:"event_type"`
	Action      Action         `json:"action"`
	UserID      string         `json:"user_id"`
	UserRoles   []string       `json:"user_roles,omitempty"`
	Resource    string         `json:"resource"`
	ResourceID  string         `json:"resource_id"`
	Timestamp   time.Time      `json:"timestamp"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Result      Result         `json:"result"`
	Sensitivity Sensitivity    `json:"sensitivity"`
	Details     map[string]any `json:"details,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Geo         *GeoLocation   `json:"geo,omitempty"`
}

var validEventTypes = map[EventType]bool{
	EventDataAccess: true, EventDataModification: true, EventAuth: true,
	EventAdminAction: true, EventPermissionChange: true, EventSecurity: true,
	EventSystem: true, EventCompliance: true,
}

var validActions = map[Action]bool{
	ActionLoginSuccess: true, ActionLoginFailure: true, ActionLogout: true,
	ActionCreate: true, ActionRead: true, ActionUpdate: true,
	ActionDelete: true, ActionSearch: true, ActionExport: true,
	ActionAccessDenied: true, ActionPermissionGrant: true,
	ActionPermissionRevoke: true, ActionConfigChange: true,
	ActionChainRestart: true,
}

var validResults = map[Result]bool{
	ResultSuccess: true, ResultFailure: true, ResultPartial: true,
}

var validSensitivities = map[Sensitivity]bool{
	SensitivityPublic: true, SensitivityInternal: true,
	SensitivityConfidential: true, SensitivityRestricted: true,
}

// Validate rejects events that cannot be attributed or that carry values
// outside the closed enum sets. Runs before any sequence number is
// assigned, so a rejected event leaves no gap. An empty sensitivity is
// allowed and falls into the standard retention tier.
func (e *AuditEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}
	if e.Resource == "" {
		return fmt.Errorf("%w: missing resource", ErrInvalidEvent)
	}
	if e.ResourceID == "" {
		return fmt.Errorf("%w: missing resource_id", ErrInvalidEvent)
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
	}
	if !validActions[e.Action] {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, e.Action)
	}
	if !validResults[e.Result] {
		return fmt.Errorf("%w: unknown result %q", ErrInvalidEvent, e.Result)
	}
	if e.Sensitivity != "" && !validSensitivities[e.Sensitivity] {
		return fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidEvent, e.Sensitivity)
	}
	return nil
}

// StorageLocations records which backends accepted the write during the
// single commit attempt. Set once by the fan-out coordinator.
type StorageLocations struct {
	Database  bool `json:"database"`
	BlobStore bool `json:"blob_store"`
	SIEM      bool `json:"siem"`
}

// Count reports how many backends accepted the write.
func (s StorageLocations) Count() int {
	n := 0
	if s.Database {
		n++
	}
	if s.BlobStore {
		n++
	}
	if s.SIEM {
		n++
	}
	return n
}

// ImmutableAuditRecord is the persisted entity. Constructed exactly once
// by the ledger; no field mutates afterwards except StorageLocations,
// which the fan-out fills in during the commit attempt.
type ImmutableAuditRecord struct {
	AuditEvent

	RecordID           string           `json:"record_id"`
	SequenceNumber     uint64           `json:"sequence_number"`
	PreviousRecordHash string           `json:"previous_record_hash"`
	RecordHash         string           `json:"record_hash"`
	BlockchainVerified bool             `json:"blockchain_verified"`
	StorageLocations   StorageLocations `json:"storage_locations"`
	RetentionDays      int              `json:"retention_days"`
	AutoDeleteAt       *time.Time       `json:"auto_delete_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// StoragePayload is the wire form written to the database, blob store and
// SIEM. Storage flags describe the commit attempt the payload travels in,
// so they are not part of the durable record.
func (r *ImmutableAuditRecord) StoragePayload() ([]byte, error) {
	type wire ImmutableAuditRecord
	return json.Marshal(struct {
		wire
		StorageLocations any `json:"storage_locations,omitempty"`
	}{wire: wire(*r)})
}
