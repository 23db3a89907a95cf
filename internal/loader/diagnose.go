// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"errors"
	"fmt"
)

// Cause values of a Diagnosis.
const (
	// CauseFunctionMissing means the module loaded but lacks the function.
	CauseFunctionMissing Cause = iota + 1
	// CauseModuleNotFound means no unit provided the module.
	CauseModuleNotFound
	// CauseProbeRejected means the module's unit was rejected by a probe.
	CauseProbeRejected
	// CauseLoadFailed means the unit failed to import or initialize.
	CauseLoadFailed
)

type (
	// Cause classifies why a key is unavailable.
	Cause int

	// Diagnosis explains why a key is unavailable.
	Diagnosis struct {
		Key    string
		Module string
		Cause  Cause
		// Failure is set for CauseProbeRejected and CauseLoadFailed.
		Failure *Failure
	}
)

// String returns the human-readable explanation.
func (d Diagnosis) String() string {
	switch d.Cause {
	case CauseFunctionMissing:
		return fmt.Sprintf("'%s' is not available: module '%s' has no such function", d.Key, d.Module)
	case CauseProbeRejected:
		if d.Failure != nil && d.Failure.HasReason {
			return fmt.Sprintf("'%s' __virtual__ returned False: %s", d.Module, d.Failure.Reason)
		}
		return fmt.Sprintf("'%s' __virtual__ returned False", d.Module)
	case CauseLoadFailed:
		return fmt.Sprintf("'%s' failed to load: %s", d.Module, d.Failure.Reason)
	default:
		return fmt.Sprintf("'%s' is not available: module '%s' was not found", d.Key, d.Module)
	}
}

// Diagnose explains why key is unavailable without attempting any import.
func (l *Loader) Diagnose(key string) Diagnosis {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.diagnose(key)
}

// MissingFunString returns the explanation of Diagnose as text.
func (l *Loader) MissingFunString(key string) string {
	return l.Diagnose(key).String()
}

// diagnose must be called with mu held.
func (l *Loader) diagnose(key string) Diagnosis {
	mod, _, _ := splitKey(key)
	d := Diagnosis{Key: key, Module: mod, Cause: CauseModuleNotFound}
	if l.loadedModules[mod] {
		d.Cause = CauseFunctionMissing
		return d
	}
	failure, ok := l.missing[mod]
	if !ok {
		return d
	}
	d.Failure = failure
	if errors.Is(failure.Kind, ErrProbeRejected) {
		d.Cause = CauseProbeRejected
	} else {
		d.Cause = CauseLoadFailed
	}
	return d
}
