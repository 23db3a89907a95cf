// SPDX-License-Identifier: MPL-2.0

// Package probe decides whether an imported unit is registered, and under
// which name, by running its capability probes.
package probe
