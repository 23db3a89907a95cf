// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/modkit/modkit/internal/execctx"
)

type (
	// GoFunc is the signature of a callable in a Go-authored unit.
	GoFunc func(env *Env, args ...any) (any, error)

	// GoProbe is the signature of a capability probe in a Go-authored unit.
	GoProbe func(env *Env) any

	// GoInit is the signature of a Go-authored unit initializer.
	GoInit func(env *Env, opts map[string]any) error

	// Module is the template of a Go-authored unit. It is used for static
	// units and exported by Go plugin units. A Module is never bound to a
	// registry itself; every import creates a fresh instance with
	// Instantiate, so the template keeps its pristine configuration.
	Module struct {
		name         string
		order        []string
		attrs        map[string]any
		funcs        map[string]goFunc
		probes       map[string]GoProbe
		init         GoInit
		defaults     map[string]any
		placeholders map[string]*execctx.Cell
	}

	goFunc struct {
		fn     GoFunc
		origin string
	}

	// Env is the set of handles a Go-authored callable receives.
	Env struct {
		ctx context.Context
		u   *goUnit
	}

	goUnit struct {
		mod  *Module
		path string
		ns   string

		mu       sync.RWMutex
		bindings Bindings
	}
)

// NewModule starts a Go unit template named name.
func NewModule(name string) *Module {
	return &Module{
		name:         name,
		attrs:        make(map[string]any),
		funcs:        make(map[string]goFunc),
		probes:       make(map[string]GoProbe),
		defaults:     make(map[string]any),
		placeholders: make(map[string]*execctx.Cell),
	}
}

// Name returns the declared unit name.
func (m *Module) Name() string {
	return m.name
}

func (m *Module) define(name string) {
	if !slices.Contains(m.order, name) {
		m.order = append(m.order, name)
	}
}

// Set declares a plain attribute.
func (m *Module) Set(name string, v any) *Module {
	m.define(name)
	m.attrs[name] = v
	return m
}

// VirtualName declares the alternate public name.
func (m *Module) VirtualName(name string) *Module {
	return m.Set(AttrVirtualName, name)
}

// VirtualAliases declares additional module names to register under.
func (m *Module) VirtualAliases(names ...string) *Module {
	return m.Set(AttrVirtualAliases, slices.Clone(names))
}

// FuncAlias maps a function name to its public name.
func (m *Module) FuncAlias(name, public string) *Module {
	aliases, _ := m.attrs[AttrFuncAlias].(map[string]string)
	if aliases == nil {
		aliases = make(map[string]string)
	}
	aliases[name] = public
	return m.Set(AttrFuncAlias, aliases)
}

// Load restricts the export list to exactly names.
func (m *Module) Load(names ...string) *Module {
	return m.Set(AttrLoad, slices.Clone(names))
}

// All declares the public names.
func (m *Module) All(names ...string) *Module {
	return m.Set(AttrAll, slices.Clone(names))
}

// ProxyEnabled declares the restricted host modes the unit supports.
func (m *Module) ProxyEnabled(modes ...string) *Module {
	return m.Set(AttrProxyEnabled, slices.Clone(modes))
}

// Outputter declares the outputter for a function.
func (m *Module) Outputter(fn, outputter string) *Module {
	outs, _ := m.attrs[AttrOutputter].(map[string]string)
	if outs == nil {
		outs = make(map[string]string)
	}
	outs[fn] = outputter
	return m.Set(AttrOutputter, outs)
}

// Func defines a callable in the unit's own namespace.
func (m *Module) Func(name string, fn GoFunc) *Module {
	m.define(name)
	m.funcs[name] = goFunc{fn: fn}
	return m
}

// Imported defines a callable whose place of definition is origin. Imported
// callables are skipped by registries that only export their own namespace.
func (m *Module) Imported(name string, fn GoFunc, origin string) *Module {
	m.define(name)
	m.funcs[name] = goFunc{fn: fn, origin: origin}
	return m
}

// Virtual defines the primary capability probe.
func (m *Module) Virtual(fn GoProbe) *Module {
	return m.Probe(ProbeName, fn)
}

// Probe defines a named capability probe.
func (m *Module) Probe(name string, fn GoProbe) *Module {
	m.define(name)
	m.probes[name] = fn
	return m
}

// Init defines the initializer.
func (m *Module) Init(fn GoInit) *Module {
	m.define(InitName)
	m.init = fn
	return m
}

// Defaults sets the unit's own configuration, merged under registry options
// on every import.
func (m *Module) Defaults(opts map[string]any) *Module {
	m.defaults = execctx.DeepCopy(opts).(map[string]any)
	return m
}

// Placeholder declares a cell for name before any registry packs it.
func (m *Module) Placeholder(name string, def any) *Module {
	m.define(name)
	m.placeholders[name] = execctx.NewCell(name, def)
	return m
}

// Instantiate creates an unbound instance of the template.
func (m *Module) Instantiate(path, namespace string) Unit {
	if path == "" {
		path = m.name
	}
	return &goUnit{mod: m, path: path, ns: namespace}
}

func (u *goUnit) Name() string      { return u.mod.name }
func (u *goUnit) Path() string      { return u.path }
func (u *goUnit) Namespace() string { return u.ns }

func (u *goUnit) Names() []string {
	return slices.Clone(u.mod.order)
}

func (u *goUnit) Attr(name string) (any, bool) {
	v, ok := u.mod.attrs[name]
	if !ok {
		return nil, false
	}
	return execctx.DeepCopy(v), true
}

func (u *goUnit) Func(name string) (*Symbol, bool) {
	f, ok := u.mod.funcs[name]
	if !ok {
		return nil, false
	}
	origin := f.origin
	if origin == "" {
		origin = u.ns
	}
	return &Symbol{
		Name:   name,
		Origin: origin,
		Call: func(ctx context.Context, args ...any) (any, error) {
			return f.fn(u.env(ctx), args...)
		},
	}, true
}

func (u *goUnit) Probe(name string) (ProbeCallable, bool) {
	p, ok := u.mod.probes[name]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context) (any, error) {
		return p(u.env(ctx)), nil
	}, true
}

func (u *goUnit) Placeholder(name string) (*execctx.Cell, bool) {
	c, ok := u.mod.placeholders[name]
	return c, ok
}

func (u *goUnit) Defaults() map[string]any {
	return execctx.DeepCopy(u.mod.defaults).(map[string]any)
}

func (u *goUnit) Bind(b Bindings) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bindings = b
}

func (u *goUnit) Initialize(ctx context.Context, opts map[string]any) error {
	if u.mod.init == nil {
		return nil
	}
	return u.mod.init(u.env(ctx), opts)
}

func (u *goUnit) env(ctx context.Context) *Env {
	return &Env{ctx: ctx, u: u}
}

// Context returns the call context with the owning registry active.
func (e *Env) Context() context.Context {
	return e.ctx
}

// Namespace returns the unit's place of definition.
func (e *Env) Namespace() string {
	return e.u.ns
}

// Cell returns the bound cell for name. Names the registry did not pack
// still resolve by name, and fail with execctx.ErrUnconfiguredContextKey.
func (e *Env) Cell(name string) *execctx.Cell {
	e.u.mu.RLock()
	c, ok := e.u.bindings.Cells[name]
	e.u.mu.RUnlock()
	if ok {
		return c
	}
	if p, ok := e.u.mod.placeholders[name]; ok {
		return p
	}
	return execctx.NewCell(name, nil)
}

// Value resolves the named cell.
func (e *Env) Value(name string) (any, error) {
	return e.Cell(name).Value(e.ctx)
}

// Dict resolves the named cell as a dict.
func (e *Env) Dict(name string) (*execctx.Dict, error) {
	return e.Cell(name).Dict(e.ctx)
}

// State returns the registry's call-scoped shared state.
func (e *Env) State() (*execctx.Dict, error) {
	return e.Dict(execctx.ContextSlot)
}

// Opts returns a deep copy of the unit-local merged configuration.
func (e *Env) Opts() map[string]any {
	e.u.mu.RLock()
	defer e.u.mu.RUnlock()
	if e.u.bindings.Opts == nil {
		return e.u.Defaults()
	}
	opts, _ := execctx.DeepCopy(e.u.bindings.Opts).(map[string]any)
	return opts
}

// Opt returns a copy of one key of the unit-local merged configuration.
func (e *Env) Opt(key string) (any, bool) {
	e.u.mu.RLock()
	defer e.u.mu.RUnlock()
	v, ok := e.u.bindings.Opts[key]
	return execctx.DeepCopy(v), ok
}

// ExtraDirs returns the registry's additional import directories.
func (e *Env) ExtraDirs() []string {
	e.u.mu.RLock()
	defer e.u.mu.RUnlock()
	return slices.Clone(e.u.bindings.ExtraDirs)
}

// Call invokes another function of the owning registry through the
// pack-self cell.
func (e *Env) Call(key string, args ...any) (any, error) {
	e.u.mu.RLock()
	self := e.u.bindings.Self
	e.u.mu.RUnlock()
	return callSelf(e.ctx, self, key, args...)
}

func callSelf(ctx context.Context, self, key string, args ...any) (any, error) {
	if self == "" {
		return nil, fmt.Errorf("call %s: %w", key, ErrNoSelf)
	}
	v, err := execctx.Lookup(ctx, self)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", key, err)
	}
	caller, ok := v.(Caller)
	if !ok {
		return nil, fmt.Errorf("call %s: %q holds %T: %w", key, self, v, ErrNoSelf)
	}
	return caller.Call(ctx, key, args...)
}
