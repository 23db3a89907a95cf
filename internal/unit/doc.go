// SPDX-License-Identifier: MPL-2.0

// Package unit defines loadable units and the importers for each unit kind.
//
// A [Unit] exposes its top-level names, attributes, callables and capability
// probes. Four kinds exist:
//
//   - script units (.sh, .bash, and compiled .shc) interpreted in-process
//     with mvdan.cc/sh; top-level functions are callables and top-level
//     variables are attributes
//   - package directories whose __init__ entry point is a script or plugin,
//     with optional unit.hcl metadata
//   - Go plugin units (.so) exporting a *Module named "Module"
//   - static units built in Go with [NewModule]
//
// Script units reach registry state through builtins such as ctx_get,
// ctx_set, opts and mcall. Go units receive an [Env] holding the same
// handles.
package unit
