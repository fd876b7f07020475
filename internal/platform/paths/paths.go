package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDataRoot is where the service keeps runtime state (the
// durability spool, local blob mirrors) when RS_FLEET_DATA_ROOT is not
// set. Relative so development runs stay inside the checkout;
// deployments point it at something like /var/lib/rs-fleet.
const DefaultDataRoot = "var"

// ResolveDataRoot returns the absolute or relative data directory for
// this process.
func ResolveDataRoot() string {
	if root := os.Getenv("RS_FLEET_DATA_ROOT"); root != "" {
		return root
	}
	return DefaultDataRoot
}

// SpoolDir returns the default location of the audit durability spool.
func SpoolDir() string {
	return filepath.Join(ResolveDataRoot(), "audit_spool")
}

// BlobDir returns the default root for the filesystem blob store used
// in development.
func BlobDir() string {
	return filepath.Join(ResolveDataRoot(), "audit_blobs")
}

// SafeJoin joins elements under base and rejects any result that would
// escape it. Blob keys pass through here before touching the
// filesystem.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute element not allowed: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
