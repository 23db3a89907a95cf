// SPDX-License-Identifier: MPL-2.0

// Package config loads the process options handed to loader registries.
//
// Options come from a viper instance seeded with defaults, the first file
// named modkit.cue, modkit.toml, modkit.yaml or modkit.yml found in the
// config directory (then the current directory), and MODKIT_* environment
// variables. CUE files are validated against the embedded config_schema.cue.
// Config.Options flattens the result into the mapping the loader expects.
package config
