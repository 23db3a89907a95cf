// SPDX-License-Identifier: MPL-2.0

package loader

import "context"

type (
	heldKey struct{}

	// heldLock is an immutable list of the registries whose lock the current
	// call chain holds.
	heldLock struct {
		l    *Loader
		next *heldLock
	}
)

// lock acquires the registry lock for the call chain of ctx. A chain that
// already holds it (a unit calling back into its own registry while being
// imported) passes through, which makes the lock reentrant per call chain.
func (l *Loader) lock(ctx context.Context) (context.Context, func()) {
	head, _ := ctx.Value(heldKey{}).(*heldLock)
	for h := head; h != nil; h = h.next {
		if h.l == l {
			return ctx, func() {}
		}
	}
	l.mu.Lock()
	return context.WithValue(ctx, heldKey{}, &heldLock{l: l, next: head}), l.mu.Unlock
}

// detach drops every held lock from ctx, for work that leaves the call
// chain.
func detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, heldKey{}, (*heldLock)(nil))
}
