// SPDX-License-Identifier: MPL-2.0

package unit

import "fmt"

const (
	// PluginSuffix is the file suffix of Go plugin units.
	PluginSuffix = ".so"
	// PluginSymbol is the symbol a Go plugin unit exports.
	PluginSymbol = "Module"
)

// pluginModule accepts the shapes a plugin may export under PluginSymbol.
func pluginModule(symbol any) (*Module, error) {
	switch v := symbol.(type) {
	case *Module:
		return v, nil
	case **Module:
		if v == nil || *v == nil {
			return nil, fmt.Errorf("plugin symbol %s is nil", PluginSymbol)
		}
		return *v, nil
	case func() *Module:
		return v(), nil
	default:
		return nil, fmt.Errorf("plugin symbol %s has type %T, want *unit.Module", PluginSymbol, symbol)
	}
}
