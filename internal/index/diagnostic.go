// SPDX-License-Identifier: MPL-2.0

package index

const (
	// SeverityWarning indicates a recoverable scan warning.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a non-fatal scan error diagnostic.
	SeverityError Severity = "error"

	// CodeScanFailed reports a search directory that could not be listed.
	CodeScanFailed = "index_scan_failed"
	// CodePackageScanFailed reports a package directory that could not be
	// listed while looking for its entry point.
	CodePackageScanFailed = "package_scan_failed"
	// CodeCollision reports a package directory and a file sharing a
	// logical name.
	CodeCollision = "module_package_collision"
)

type (
	// Severity represents scan diagnostic severity.
	Severity string

	// Diagnostic represents a structured scan diagnostic that is returned to
	// callers (rather than written to stderr) for consistent rendering policy.
	Diagnostic struct {
		// Severity is the diagnostic level (warning or error).
		Severity Severity
		// Code is a machine-readable identifier (e.g., "index_scan_failed").
		Code string
		// Message is the human-readable description.
		Message string
		// Path is the file path associated with this diagnostic (optional).
		Path string
		// Cause is the underlying error (optional, for programmatic inspection).
		Cause error
	}
)
