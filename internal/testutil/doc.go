// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers for tests that fail fast on setup errors.
//
// Besides the Must* filesystem and environment helpers it writes unit
// fixtures (shell units, package directories, compiled cache entries) into
// search directories, and offers a manually advanced clock.
package testutil
