// SPDX-License-Identifier: MPL-2.0

// Package execctx tracks which registry is active for a call stack and
// resolves named state cells through it.
//
// A registry becomes active by deriving a context with [Enter] (or running a
// function under [Run]). The derived context carries a [Frame] that records
// the registry, the frame that was active before it, and any bindings visible
// only for that call. Because contexts are immutable, leaving a call restores
// the previous frame on every exit path, and concurrent call stacks never see
// each other's active registry.
//
// A [Cell] is a named indirection into the active registry's [Store]. Units
// hold cells rather than values, so the same unit code observes whichever
// registry is running it:
//
//	ctxCell := execctx.NewCell(execctx.ContextSlot, nil)
//	state, err := ctxCell.Dict(ctx)
//	if err != nil {
//		return err
//	}
//	state.Set("seen", true)
//
// Resolving a name the active registry never packed fails with
// [ErrUnconfiguredContextKey], except for [OptsSlot] and [ContextSlot], which
// every registry packs.
package execctx
