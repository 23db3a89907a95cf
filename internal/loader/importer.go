// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"fmt"

	"github.com/modkit/modkit/internal/index"
	"github.com/modkit/modkit/internal/unit"
)

type (
	// ImportRequest describes one unit to import.
	ImportRequest struct {
		Entry     index.Entry
		Namespace string
		// Static is the template of a static entry.
		Static *unit.Module
		// InitSuffixes are the acceptable package entry point suffixes.
		InitSuffixes []string
		// Env holds KEY=VALUE entries for script units.
		Env []string
	}

	// Importer turns an index entry into a unit. The registry active in ctx
	// is the importing registry.
	Importer interface {
		Import(ctx context.Context, req ImportRequest) (unit.Unit, error)
	}

	// ImporterFunc adapts a function to Importer.
	ImporterFunc func(ctx context.Context, req ImportRequest) (unit.Unit, error)

	defaultImporter struct{}
)

// DefaultImporter imports every kind the index produces.
var DefaultImporter Importer = defaultImporter{}

// Import calls f.
func (f ImporterFunc) Import(ctx context.Context, req ImportRequest) (unit.Unit, error) {
	return f(ctx, req)
}

func (defaultImporter) Import(ctx context.Context, req ImportRequest) (unit.Unit, error) {
	e := req.Entry
	switch e.Kind {
	case index.KindStatic:
		if req.Static == nil {
			return nil, fmt.Errorf("static unit %q is not registered", e.Name)
		}
		return req.Static.Instantiate("", req.Namespace), nil
	case index.KindPackage:
		return unit.ImportPackage(ctx, e.Name, e.Path, unit.PackageOptions{
			Namespace:    req.Namespace,
			InitSuffixes: req.InitSuffixes,
			Env:          req.Env,
		})
	case index.KindExtension:
		return unit.ImportPlugin(e.Path, req.Namespace)
	case index.KindSource, index.KindCompiled:
		return unit.ImportShell(ctx, e.Path, unit.ShellOptions{
			Name:      e.Name,
			Namespace: req.Namespace,
			Env:       req.Env,
		})
	default:
		return nil, fmt.Errorf("%s: %w: kind %s", e.Path, unit.ErrUnsupportedUnit, e.Kind)
	}
}
