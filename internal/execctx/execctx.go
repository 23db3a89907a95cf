// SPDX-License-Identifier: MPL-2.0

package execctx

import (
	"context"
	"maps"
)

const (
	// OptsSlot names the registry options cell.
	OptsSlot = "__opts__"
	// ContextSlot names the call-scoped shared state cell.
	ContextSlot = "__context__"
)

type (
	// Host is a registry that can be made active for a call stack.
	Host interface {
		// Tag labels the registry in diagnostics.
		Tag() string
		// Store returns the backing store for the registry's named cells.
		Store() *Store
	}

	// Frame is one activation of a Host. Frames form a chain through Parent
	// that mirrors nested cross-registry calls.
	Frame struct {
		host    Host
		parent  *Frame
		overlay map[string]any
		depth   int
	}

	frameKey struct{}
)

// Host returns the registry bound by this frame.
func (f *Frame) Host() Host {
	if f == nil {
		return nil
	}
	return f.host
}

// Parent returns the frame that was active when this one was entered, or nil.
func (f *Frame) Parent() *Frame {
	if f == nil {
		return nil
	}
	return f.parent
}

// Depth is the number of frames below this one.
func (f *Frame) Depth() int {
	if f == nil {
		return -1
	}
	return f.depth
}

// ParentHost returns the nearest enclosing registry that differs from this
// frame's registry, or nil when the call did not come from another registry.
func (f *Frame) ParentHost() Host {
	for p := f.Parent(); p != nil; p = p.parent {
		if p.host != f.host {
			return p.host
		}
	}
	return nil
}

// lookup checks the call-time overlay before the host store.
func (f *Frame) lookup(name string) (any, bool) {
	if v, ok := f.overlay[name]; ok {
		return v, true
	}
	return f.host.Store().Get(name)
}

// Enter returns a context in which host is the active registry. The previous
// frame, if any, becomes the new frame's parent. The overlay bindings are
// visible only to code running under the returned context and shadow the
// host's packed cells of the same name.
func Enter(ctx context.Context, host Host, overlay map[string]any) context.Context {
	parent := Current(ctx)
	f := &Frame{host: host, parent: parent, depth: parent.Depth() + 1}
	if len(overlay) > 0 {
		f.overlay = maps.Clone(overlay)
	}
	return context.WithValue(ctx, frameKey{}, f)
}

// Current returns the innermost frame of ctx, or nil when no registry is
// active.
func Current(ctx context.Context) *Frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey{}).(*Frame)
	return f
}

// Active returns the registry bound to ctx, or nil.
func Active(ctx context.Context) Host {
	return Current(ctx).Host()
}

// Run calls fn with host active. The caller's context is untouched, so once
// Run returns (normally, with an error, or by panic) the caller observes the
// registry that was active before.
func Run[T any](ctx context.Context, host Host, fn func(context.Context) (T, error)) (T, error) {
	return fn(Enter(ctx, host, nil))
}

// IsUniversal reports whether name is packed by every registry.
func IsUniversal(name string) bool {
	return name == OptsSlot || name == ContextSlot
}
