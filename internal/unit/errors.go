// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSelf is returned when a unit calls back into its registry but the
	// registry packed no self reference.
	ErrNoSelf = errors.New("no self reference packed")

	// ErrUnsupportedUnit is returned for unit kinds this build cannot import.
	ErrUnsupportedUnit = errors.New("unsupported unit")

	// ErrExitDuringImport is returned when a script unit calls exit at the
	// top level.
	ErrExitDuringImport = errors.New("unit called exit during import")

	// ErrNoEntryPoint is returned for a package directory without an
	// __init__ file.
	ErrNoEntryPoint = errors.New("package directory has no __init__ entry point")
)

// ExitError reports a script callable that finished with a non-zero status.
type ExitError struct {
	Unit   string
	Func   string
	Status int
	Stderr string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s.%s exited with status %d", e.Unit, e.Func, e.Status)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}
