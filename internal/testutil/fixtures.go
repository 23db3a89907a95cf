// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"path/filepath"
	"testing"
)

// CacheDir is the subdirectory holding compiled units.
const CacheDir = "__cache__"

// WriteUnit writes a single-file unit named file (with its suffix) into dir
// and returns its path.
func WriteUnit(t testing.TB, dir, file, body string) string {
	t.Helper()
	return MustWriteFile(t, filepath.Join(dir, file), body)
}

// WritePackage writes a package directory name into dir with entry point
// __init__<suffix>. A non-empty manifest is written as unit.hcl.
func WritePackage(t testing.TB, dir, name, suffix, body, manifest string) string {
	t.Helper()
	pkg := filepath.Join(dir, name)
	MustWriteFile(t, filepath.Join(pkg, "__init__"+suffix), body)
	if manifest != "" {
		MustWriteFile(t, filepath.Join(pkg, "unit.hcl"), manifest)
	}
	return pkg
}

// WriteCompiled writes a compiled unit file into the cache directory of dir.
func WriteCompiled(t testing.TB, dir, file, body string) string {
	t.Helper()
	return MustWriteFile(t, filepath.Join(dir, CacheDir, file), body)
}
