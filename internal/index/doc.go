// SPDX-License-Identifier: MPL-2.0

// Package index maps logical unit names to the single best candidate found
// across a list of search directories.
//
// Directories are listed in sorted order so the outcome never depends on the
// filesystem. Per name, a package directory and a plain file never replace
// each other (the first seen stays and a collision diagnostic is recorded),
// two compiled artifacts compare by optimization rank, and anything else
// compares by suffix precedence with ties going to the first seen. Static
// entries are merged last.
package index
