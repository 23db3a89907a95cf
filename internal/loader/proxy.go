// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"slices"
	"strings"
)

type (
	// ModuleProxy exposes the functions registered under one module name.
	ModuleProxy struct {
		name   string
		loader *Loader
	}

	// View exposes every resolved key ending in a suffix under the name with
	// the suffix removed.
	View struct {
		suffix string
		loader *Loader
	}
)

// Module resolves a bare module name, importing the closest matching units
// until one registers it.
func (l *Loader) Module(ctx context.Context, name string) (*ModuleProxy, error) {
	if strings.Contains(name, ".") {
		return nil, &LookupError{Key: name, Kind: ErrMalformedKey, Reason: "module name '" + name + "' must not contain a '.'"}
	}

	ctx, unlock := l.lock(ctx)
	defer unlock()

	if !l.loadedModules[name] && !l.loaded {
		for candidate := range l.snapshot().Candidates(name) {
			if l.loadedFiles[candidate] {
				continue
			}
			if l.loadUnit(ctx, candidate) && l.loadedModules[name] {
				break
			}
		}
	}
	if !l.loadedModules[name] {
		return nil, l.notFound(name+".", l.missing[name])
	}
	return &ModuleProxy{name: name, loader: l}, nil
}

// Name returns the module name.
func (p *ModuleProxy) Name() string {
	return p.name
}

// Func returns the function fn of the module.
func (p *ModuleProxy) Func(ctx context.Context, fn string) (*Func, error) {
	return p.loader.Lookup(ctx, p.name+"."+fn)
}

// Call invokes the function fn of the module.
func (p *ModuleProxy) Call(ctx context.Context, fn string, args ...any) (any, error) {
	return p.loader.Call(ctx, p.name+"."+fn, args...)
}

// Names lists the registered function names of the module, sorted.
func (p *ModuleProxy) Names() []string {
	prefix := p.name + "."
	var names []string
	for _, key := range p.loader.keys() {
		if fn, ok := strings.CutPrefix(key, prefix); ok {
			names = append(names, fn)
		}
	}
	return names
}

// Filter returns a view of the keys ending with suffix.
func (l *Loader) Filter(suffix string) *View {
	return &View{suffix: suffix, loader: l}
}

// Get resolves name plus the view suffix.
func (v *View) Get(ctx context.Context, name string) (*Func, error) {
	return v.loader.Lookup(ctx, name+v.suffix)
}

// Names lists the resolved keys ending with the suffix, with the suffix
// removed.
func (v *View) Names() []string {
	var names []string
	for _, key := range v.loader.keys() {
		if name, ok := strings.CutSuffix(key, v.suffix); ok {
			names = append(names, name)
		}
	}
	return slices.Compact(names)
}
