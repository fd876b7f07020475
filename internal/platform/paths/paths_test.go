package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDataRoot(t *testing.T) {
	// 1. falls back to the in-checkout default
	t.Setenv("RS_FLEET_DATA_ROOT", "")
	assert.Equal(t, DefaultDataRoot, ResolveDataRoot())
	assert.Equal(t, filepath.Join(DefaultDataRoot, "audit_spool"), SpoolDir())

	// 2. honors the deployment override
	t.Setenv("RS_FLEET_DATA_ROOT", "/var/lib/rs-fleet")
	assert.Equal(t, "/var/lib/rs-fleet", ResolveDataRoot())
	assert.Equal(t, filepath.Join("/var/lib/rs-fleet", "audit_blobs"), BlobDir())
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"audit-logs", "2026-03-14", "rec.json"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"audit-logs", "..", "..", "secrets"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}
