// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"maps"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/modkit/modkit/internal/unit"
)

// DefaultBaseName prefixes every unit namespace.
const DefaultBaseName = "modkit.loaded"

type (
	// Option configures a Loader.
	Option func(*Loader)
)

// WithTag sets the registry domain label, e.g. "module" or "beacons". It
// names the disabled-units option key and the unit namespaces.
func WithTag(tag string) Option {
	return func(l *Loader) {
		l.tag = tag
	}
}

// WithBaseName sets the namespace prefix of loaded units.
func WithBaseName(base string) Option {
	return func(l *Loader) {
		if base != "" {
			l.base = base
		}
	}
}

// WithPack adds named cells packed into every unit. A nil value packs a
// fresh empty dict. Cell values are resolved at construction.
func WithPack(pack map[string]any) Option {
	return func(l *Loader) {
		if l.pack == nil {
			l.pack = make(map[string]any, len(pack))
		}
		maps.Copy(l.pack, pack)
	}
}

// WithPackSelf packs the registry itself under name, so units can call its
// other functions.
func WithPackSelf(name string) Option {
	return func(l *Loader) {
		l.packSelf = name
	}
}

// WithWhitelist restricts the loadable module names.
func WithWhitelist(names ...string) Option {
	return func(l *Loader) {
		l.whitelist = slices.Clone(names)
	}
}

// WithStatic registers in-memory units. They are indexed after the
// filesystem scan and always win over same-named files.
func WithStatic(mods ...*unit.Module) Option {
	return func(l *Loader) {
		for _, m := range mods {
			if _, ok := l.statics[m.Name()]; !ok {
				l.staticOrder = append(l.staticOrder, m.Name())
			}
			l.statics[m.Name()] = m
		}
	}
}

// WithProbes adds supplementary probe names run after the primary probe.
func WithProbes(names ...string) Option {
	return func(l *Loader) {
		l.extraProbes = slices.Clone(names)
	}
}

// WithoutProbes registers every imported unit without probing.
func WithoutProbes() Option {
	return func(l *Loader) {
		l.virtualEnable = false
	}
}

// WithForeignFunctions exports callables defined outside the registry's
// namespace too.
func WithForeignFunctions() Option {
	return func(l *Loader) {
		l.namespacedOnly = false
	}
}

// WithRestrictedCheck enables the restricted host mode check.
func WithRestrictedCheck() Option {
	return func(l *Loader) {
		l.restricted = true
	}
}

// WithInject adds bindings visible to registered functions only while they
// are being called.
func WithInject(inject map[string]any) Option {
	return func(l *Loader) {
		if l.inject == nil {
			l.inject = make(map[string]any, len(inject))
		}
		maps.Copy(l.inject, inject)
	}
}

// WithExtraDirs sets additional import directories handed to units.
func WithExtraDirs(dirs ...string) Option {
	return func(l *Loader) {
		l.extraDirs = slices.Clone(dirs)
	}
}

// WithSuffixOrder overrides the suffix precedence order.
func WithSuffixOrder(order ...string) Option {
	return func(l *Loader) {
		l.suffixOrder = slices.Clone(order)
	}
}

// WithSystemDir marks units under dir as internal in their namespace.
func WithSystemDir(dir string) Option {
	return func(l *Loader) {
		l.systemDir = dir
	}
}

// WithLogger replaces the registry logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithImporter replaces the unit importer.
func WithImporter(imp Importer) Option {
	return func(l *Loader) {
		l.importer = imp
	}
}
