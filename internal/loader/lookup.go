// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/modkit/modkit/internal/execctx"
	"github.com/modkit/modkit/internal/unit"
)

type (
	// Func is a registered function bound to its registry.
	Func struct {
		// Key is the full "module.function" key.
		Key    string
		Module string
		Name   string
		// Unit is the index name of the providing unit.
		Unit string
		// Origin is the place of definition of the callable.
		Origin string
		// Outputter is the label the unit declared for this function.
		Outputter string

		call   unit.Callable
		loader *Loader
	}

	// Result is delivered by RunAsync.
	Result struct {
		Value any
		Err   error
	}
)

// Call invokes the function with its registry active. Call-time inject
// bindings are visible only for this invocation, and a returned cell is
// resolved to its value.
func (f *Func) Call(ctx context.Context, args ...any) (any, error) {
	ctx = execctx.Enter(ctx, f.loader, f.loader.inject)
	out, err := f.call(ctx, args...)
	if err != nil {
		return out, err
	}
	if c, ok := out.(*execctx.Cell); ok {
		return execctx.Resolve(ctx, c)
	}
	return out, nil
}

// Loader returns the owning registry.
func (f *Func) Loader() *Loader {
	return f.loader
}

func splitKey(key string) (string, string, bool) {
	mod, fn, ok := strings.Cut(key, ".")
	if !ok || mod == "" {
		return "", "", false
	}
	return mod, fn, true
}

func (l *Loader) resolved(key string) (*Func, bool) {
	v, ok := l.funcs.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Func), true
}

// Lookup resolves key, importing and probing candidate units on first use.
// Resolved keys are served without locking. After the indexed candidates
// are exhausted the index is refreshed once and the candidates retried.
func (l *Loader) Lookup(ctx context.Context, key string) (*Func, error) {
	mod, _, ok := splitKey(key)
	if !ok {
		return nil, &LookupError{Key: key, Kind: ErrMalformedKey, Reason: "the key '" + key + "' should contain a '.'"}
	}
	if f, ok := l.resolved(key); ok {
		return f, nil
	}

	ctx, unlock := l.lock(ctx)
	defer unlock()

	if f, ok := l.resolved(key); ok {
		return f, nil
	}
	if failure, ok := l.missing[mod]; ok {
		return nil, l.notFound(key, failure)
	}
	if len(l.whitelist) > 0 && !slices.Contains(l.whitelist, mod) {
		l.logger.Error("module is not in the whitelist", "key", key, "module", mod, "whitelist", l.whitelist)
		return nil, &LookupError{Key: key, Kind: ErrNotPermitted, Reason: "module '" + mod + "' is not in the whitelist"}
	}
	if l.loaded {
		return nil, l.notFound(key, nil)
	}

	for attempt := range 2 {
		if l.loadFor(ctx, mod, key) {
			f, _ := l.resolved(key)
			return f, nil
		}
		if attempt == 0 {
			l.refresh()
		}
	}
	return nil, l.notFound(key, l.missing[mod])
}

// loadFor imports candidates for mod until key resolves. Must be called
// with mu held.
func (l *Loader) loadFor(ctx context.Context, mod, key string) bool {
	for name := range l.snapshot().Candidates(mod) {
		if l.loadedFiles[name] {
			continue
		}
		if l.loadUnit(ctx, name) {
			if _, ok := l.resolved(key); ok {
				return true
			}
		}
	}
	return false
}

func (l *Loader) notFound(key string, failure *Failure) *LookupError {
	return &LookupError{Key: key, Kind: ErrSymbolNotFound, Reason: l.diagnose(key).String(), Failure: failure}
}

// Call resolves key and invokes it. It makes the registry usable as the
// pack-self cell of its own units.
func (l *Loader) Call(ctx context.Context, key string, args ...any) (any, error) {
	f, err := l.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return f.Call(ctx, args...)
}

// Run calls fn with the registry active.
func (l *Loader) Run(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	ctx = execctx.Enter(ctx, l, l.inject)
	out, err := fn(ctx)
	if err != nil {
		return out, err
	}
	return execctx.Resolve(ctx, out)
}

// RunAsync resolves and calls key on its own goroutine with the registry
// active. The result channel receives exactly one value.
func (l *Loader) RunAsync(ctx context.Context, key string, args ...any) <-chan Result {
	ch := make(chan Result, 1)
	ctx = detach(ctx)
	go func() {
		out, err := l.Call(ctx, key, args...)
		ch <- Result{Value: out, Err: err}
	}()
	return ch
}

// LookupAll imports every remaining indexed unit. Afterwards lookups of
// unknown keys fail without importing.
func (l *Loader) LookupAll(ctx context.Context) {
	ctx, unlock := l.lock(ctx)
	defer unlock()
	l.loadAll(ctx)
}

func (l *Loader) loadAll(ctx context.Context) {
	for _, name := range l.snapshot().Names() {
		if l.loadedFiles[name] {
			continue
		}
		if _, failed := l.missing[name]; failed {
			continue
		}
		l.loadUnit(ctx, name)
	}
	l.loaded = true
}

// ReloadModules forgets which units were imported and imports every unit
// again. Keys already registered keep their first writer.
func (l *Loader) ReloadModules(ctx context.Context) {
	ctx, unlock := l.lock(ctx)
	defer unlock()
	l.loadedFiles = make(map[string]bool)
	l.loadAll(ctx)
}

// Clear drops every registered key and all bookkeeping. The index is
// rebuilt on next access.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs.Clear()
	l.loadedFiles = make(map[string]bool)
	l.loadedModules = make(map[string]bool)
	l.missing = make(map[string]*Failure)
	l.loaded = false
	l.snap = nil
}

// Keys imports everything and returns the registered keys in sorted order.
func (l *Loader) Keys(ctx context.Context) []string {
	l.LookupAll(ctx)
	return l.keys()
}

func (l *Loader) keys() []string {
	var keys []string
	l.funcs.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	slices.Sort(keys)
	return keys
}

// Len imports everything and returns the number of registered keys.
func (l *Loader) Len(ctx context.Context) int {
	return len(l.Keys(ctx))
}

// Set registers fn under key, replacing any existing registration.
func (l *Loader) Set(key string, fn *Func) error {
	mod, name, ok := splitKey(key)
	if !ok {
		return &LookupError{Key: key, Kind: ErrMalformedKey}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	registered := *fn
	registered.Key, registered.Module, registered.Name = key, mod, name
	l.funcs.Store(key, &registered)
	l.loadedModules[mod] = true
	return nil
}

// Missing returns the recorded unit failures keyed by unit name.
func (l *Loader) Missing() map[string]Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Failure, len(l.missing))
	for name, f := range l.missing {
		out[name] = *f
	}
	return out
}

// Raw imports only the unit indexed under name and returns the functions it
// registered.
func (l *Loader) Raw(ctx context.Context, name string) map[string]*Func {
	ctx, unlock := l.lock(ctx)
	defer unlock()

	if _, ok := l.snapshot().Get(name); !ok {
		return map[string]*Func{}
	}
	if !l.loadedFiles[name] {
		l.loadUnit(ctx, name)
	}
	out := make(map[string]*Func)
	l.funcs.Range(func(k, v any) bool {
		if f := v.(*Func); f.Unit == name {
			out[k.(string)] = f
		}
		return true
	})
	return out
}

// Loaded reports the module names with at least one registered function.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.loadedModules))
}
