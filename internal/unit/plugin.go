// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package unit

import (
	"fmt"
	"plugin"
)

// ImportPlugin opens a Go plugin unit and instantiates its exported Module.
func ImportPlugin(path, namespace string) (Unit, error) {
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	symbol, err := plug.Lookup(PluginSymbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", PluginSymbol, err)
	}
	mod, err := pluginModule(symbol)
	if err != nil {
		return nil, err
	}
	return mod.Instantiate(path, namespace), nil
}
