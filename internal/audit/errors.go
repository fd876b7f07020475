package audit

import "errors"

var (
	// ErrNotInitialized is returned by LogEvent before Initialize has
	// completed successfully.
	ErrNotInitialized = errors.New("ledger not initialized")

	// ErrInvalidEvent rejects events missing required identity or
	// resource fields, before any sequence number is consumed.
	ErrInvalidEvent = errors.New("invalid audit event")

	// ErrDurability is reported when the configured storage policy
	// (required database write or minimum backend count) was not met.
	// The record is still returned with its flags.
	ErrDurability = errors.New("storage durability policy not met")
)
