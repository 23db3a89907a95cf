// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors with suggestions and a catalog
// of Markdown guidance for the failure classes of configuration loading and
// registry lookups.
package issue
