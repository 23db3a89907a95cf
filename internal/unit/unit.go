// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/modkit/modkit/internal/execctx"
)

// Well-known unit attribute and function names.
const (
	AttrVirtualName    = "__virtualname__"
	AttrVirtualAliases = "__virtual_aliases__"
	AttrFuncAlias      = "__func_alias__"
	AttrLoad           = "__load__"
	AttrAll            = "__all__"
	AttrProxyEnabled   = "__proxyenabled__"
	AttrOutputter      = "__outputter__"

	// ProbeName is the primary capability probe.
	ProbeName = "__virtual__"
	// InitName is the one-shot initializer.
	InitName = "__init__"
)

type (
	// Callable is an invocable exported by a unit.
	Callable func(ctx context.Context, args ...any) (any, error)

	// ProbeCallable is a capability probe. The result is interpreted by the
	// probe package: bool, ProbeResult, a rename string, or nil.
	ProbeCallable func(ctx context.Context) (any, error)

	// Symbol is a named callable together with the namespace it was defined
	// in.
	Symbol struct {
		Name   string
		Origin string
		Call   Callable
	}

	// ProbeResult is the (ok, reason) form of a probe return value.
	ProbeResult struct {
		Ok     bool
		Reason string
	}

	// Bindings are the capability handles a registry hands to a unit after
	// import.
	Bindings struct {
		// Opts is the unit-local configuration: the unit's pristine defaults
		// merged with the registry options.
		Opts map[string]any
		// Cells holds one cell per packed name.
		Cells map[string]*execctx.Cell
		// Self names the cell bound to the owning registry, if any.
		Self string
		// ExtraDirs are additional import directories.
		ExtraDirs []string
	}

	// Caller invokes registry functions by key. The pack-self cell holds a
	// Caller.
	Caller interface {
		Call(ctx context.Context, key string, args ...any) (any, error)
	}

	// Unit is one imported, loadable piece of code.
	Unit interface {
		// Name is the declared (file) name.
		Name() string
		// Path is the file the unit was imported from, or a static label.
		Path() string
		// Namespace is the place of definition for the unit's own callables.
		Namespace() string
		// Names lists every top-level name, including non-callables.
		Names() []string
		// Attr returns a top-level attribute.
		Attr(name string) (any, bool)
		// Func returns a callable top-level name.
		Func(name string) (*Symbol, bool)
		// Probe returns a capability probe by name.
		Probe(name string) (ProbeCallable, bool)
		// Placeholder returns a cell the unit declared for name.
		Placeholder(name string) (*execctx.Cell, bool)
		// Defaults returns a copy of the unit's pristine configuration.
		Defaults() map[string]any
		// Bind installs the registry handles.
		Bind(b Bindings)
		// Initialize runs the unit initializer, if any, with the merged
		// configuration.
		Initialize(ctx context.Context, opts map[string]any) error
	}
)

// StringAttr returns a string attribute.
func StringAttr(u Unit, name string) (string, bool) {
	v, ok := u.Attr(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ListAttr returns a list attribute. A single string is a one-element list.
func ListAttr(u Unit, name string) ([]string, bool) {
	v, ok := u.Attr(name)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return slices.Clone(t), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out, true
	case string:
		if t == "" {
			return []string{}, true
		}
		return []string{t}, true
	default:
		return nil, false
	}
}

// MapAttr returns a string-to-string attribute.
func MapAttr(u Unit, name string) (map[string]string, bool) {
	v, ok := u.Attr(name)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]string:
		return maps.Clone(t), true
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = fmt.Sprint(e)
		}
		return out, true
	default:
		return nil, false
	}
}

