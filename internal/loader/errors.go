// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"errors"
	"fmt"

	"github.com/modkit/modkit/internal/execctx"
	"github.com/modkit/modkit/internal/issue"
)

var (
	// ErrMalformedKey is returned for keys without a module separator.
	ErrMalformedKey = errors.New("malformed key")

	// ErrNotPermitted is returned for modules outside the allow-list.
	ErrNotPermitted = errors.New("module not permitted")

	// ErrSymbolNotFound is returned when no unit provides the key.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrImportFailure marks units that could not be imported.
	ErrImportFailure = errors.New("import failure")

	// ErrProbeRejected marks units rejected by their capability probe or
	// by the restricted host check.
	ErrProbeRejected = errors.New("probe rejected")

	// ErrInitializerFailure marks units whose initializer failed.
	ErrInitializerFailure = errors.New("initializer failure")
)

type (
	// Failure records why a unit is absent from the registry.
	Failure struct {
		// Unit is the name the failure is recorded under.
		Unit string
		// Kind is ErrImportFailure, ErrProbeRejected or
		// ErrInitializerFailure.
		Kind error
		// Reason is the human-readable cause; HasReason is false for a probe
		// that returned a bare false.
		Reason    string
		HasReason bool
		// Err is the underlying error, if any.
		Err error
	}

	// LookupError is returned by Lookup and the operations built on it.
	LookupError struct {
		Key string
		// Kind is one of ErrMalformedKey, ErrNotPermitted or
		// ErrSymbolNotFound.
		Kind error
		// Reason is the diagnostic message for the key.
		Reason string
		// Failure is the recorded failure of the key's module, if any.
		Failure *Failure
	}
)

// Error implements the error interface.
func (f *Failure) Error() string {
	if !f.HasReason {
		return fmt.Sprintf("%s: %s", f.Unit, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", f.Unit, f.Kind, f.Reason)
}

// Unwrap returns the failure kind and the underlying error.
func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.Key)
}

// Unwrap returns the error kind and the module failure, if any.
func (e *LookupError) Unwrap() []error {
	if e.Failure == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Failure}
}

// IssueFor returns the catalog entry explaining err, or 0 when err is not
// one of the loader or context errors.
func IssueFor(err error) issue.Id {
	switch {
	case errors.Is(err, ErrMalformedKey):
		return issue.MalformedKeyId
	case errors.Is(err, ErrNotPermitted):
		return issue.NotPermittedId
	case errors.Is(err, execctx.ErrUnconfiguredContextKey):
		return issue.UnconfiguredContextKeyId
	case errors.Is(err, ErrProbeRejected):
		return issue.ProbeRejectedId
	case errors.Is(err, ErrImportFailure), errors.Is(err, ErrInitializerFailure):
		return issue.UnitImportFailedId
	case errors.Is(err, ErrSymbolNotFound):
		return issue.SymbolNotFoundId
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Issue
	}
	return 0
}
