// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride allows tests to override the config directory.
var configDirOverride string

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride sets a custom config directory path. It is meant
// for tests where os.UserHomeDir() does not follow HOME.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
