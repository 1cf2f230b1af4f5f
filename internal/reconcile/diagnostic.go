// SPDX-License-Identifier: MPL-2.0

package reconcile

const (
	// SeverityWarning indicates a skipped entry that does not affect others.
	SeverityWarning Severity = "warning"
	// SeverityError indicates an entry that could not be read at all.
	SeverityError Severity = "error"
)

const (
	CodeLocationInvalid    = "location_invalid"
	CodeLocationUnreadable = "location_unreadable"
	CodeDescriptorInvalid  = "descriptor_invalid"
	CodeFingerprintFailed  = "fingerprint_failed"
	CodeIDCollision        = "addon_id_collision"
)

type (
	// Severity represents scan diagnostic severity.
	Severity string

	// Diagnostic is a non-fatal problem found while scanning. Scans return
	// diagnostics instead of failing so one broken addon never hides the rest.
	Diagnostic struct {
		Severity Severity
		// Code is a machine-readable identifier (e.g., "descriptor_invalid").
		Code    string
		Message string
		Path    string
		Cause   error
	}
)

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	if d.Path == "" {
		return string(d.Severity) + ": " + d.Message
	}
	return string(d.Severity) + ": " + d.Path + ": " + d.Message
}
