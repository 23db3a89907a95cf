// SPDX-License-Identifier: MPL-2.0

//go:build windows

package unit

import "fmt"

// ImportPlugin reports that Go plugin units are not available on Windows.
func ImportPlugin(path, _ string) (Unit, error) {
	return nil, fmt.Errorf("plugin %s: %w: go plugins are not supported on windows", path, ErrUnsupportedUnit)
}
