// SPDX-License-Identifier: MPL-2.0

// Package loader implements the lazily populated function registry.
//
// A Loader maps "module.function" keys to callables exported by units found
// in its search directories. Units are imported, bound to the registry's
// packed context cells, probed and registered on first lookup of one of
// their keys. Each Loader owns its cells, so registries built from the same
// directories never observe each other's state, and calling a registered
// function makes its registry the active one for the duration of the call.
//
// Factories such as Modules, Utils, Grains and Facts assemble registries for
// the usual unit domains from an options mapping.
package loader
