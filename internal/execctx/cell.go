// SPDX-License-Identifier: MPL-2.0

package execctx

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnconfiguredContextKey is returned when a cell names a slot the
	// active registry never packed.
	ErrUnconfiguredContextKey = errors.New("unconfigured context key")

	// ErrNoActiveRegistry is returned when writing through a cell while no
	// registry is active.
	ErrNoActiveRegistry = errors.New("no active registry")

	// ErrNotDict is returned by Cell.Dict when the slot holds another type.
	ErrNotDict = errors.New("context slot is not a dict")
)

type (
	// Cell is a named slot resolved through the active registry.
	Cell struct {
		name string
		def  any
	}

	// UnconfiguredError reports a slot lookup the active registry cannot
	// satisfy.
	UnconfiguredError struct {
		Name string
		Tag  string
	}
)

// Error implements the error interface.
func (e *UnconfiguredError) Error() string {
	return fmt.Sprintf("%s: %q is not packed by the %s registry", ErrUnconfiguredContextKey, e.Name, e.Tag)
}

// Unwrap returns ErrUnconfiguredContextKey for use with errors.Is.
func (e *UnconfiguredError) Unwrap() error {
	return ErrUnconfiguredContextKey
}

// NewCell creates a cell for name. def is returned when no registry is
// active.
func NewCell(name string, def any) *Cell {
	return &Cell{name: name, def: def}
}

// Name returns the slot name.
func (c *Cell) Name() string {
	return c.name
}

// Default returns the value used when no registry is active.
func (c *Cell) Default() any {
	return c.def
}

// Value resolves the cell through the registry active in ctx.
func (c *Cell) Value(ctx context.Context) (any, error) {
	f := Current(ctx)
	if f == nil {
		return c.def, nil
	}
	if v, ok := f.lookup(c.name); ok {
		return v, nil
	}
	if IsUniversal(c.name) {
		return c.def, nil
	}
	return nil, &UnconfiguredError{Name: c.name, Tag: f.host.Tag()}
}

// Set replaces the slot value in the active registry's store.
func (c *Cell) Set(ctx context.Context, v any) error {
	host := Active(ctx)
	if host == nil {
		return fmt.Errorf("set %q: %w", c.name, ErrNoActiveRegistry)
	}
	if !host.Store().Has(c.name) && !IsUniversal(c.name) {
		return &UnconfiguredError{Name: c.name, Tag: host.Tag()}
	}
	host.Store().Set(c.name, v)
	return nil
}

// Dict resolves the cell and asserts that the slot holds a *Dict.
func (c *Cell) Dict(ctx context.Context) (*Dict, error) {
	v, err := c.Value(ctx)
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case *Dict:
		return d, nil
	case nil:
		return nil, fmt.Errorf("%q: %w", c.name, ErrNotDict)
	default:
		return nil, fmt.Errorf("%q holds %T: %w", c.name, v, ErrNotDict)
	}
}

// Lookup resolves the slot name through ctx without a declared cell.
func Lookup(ctx context.Context, name string) (any, error) {
	return NewCell(name, nil).Value(ctx)
}

// Resolve returns the concrete value behind v when v is a *Cell, resolving
// chains of cells. Other values are returned unchanged.
func Resolve(ctx context.Context, v any) (any, error) {
	for {
		c, ok := v.(*Cell)
		if !ok {
			return v, nil
		}
		next, err := c.Value(ctx)
		if err != nil {
			return nil, err
		}
		if next == v {
			return next, nil
		}
		v = next
	}
}
