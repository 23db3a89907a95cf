// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/modkit/modkit/internal/execctx"
)

type (
	// DirOptions tunes ModuleDirs.
	DirOptions struct {
		// IntType names the system subdirectory when it differs from the
		// extension type.
		IntType string
		// SkipExtDirs drops the "<tag>_dirs" option entries.
		SkipExtDirs bool
		// ExtTypeDirs overrides the "<tag>_dirs" option key.
		ExtTypeDirs string
		// BasePath overrides the "system_dir" option.
		BasePath string
	}

	// Deps are the registries and state a factory packs into its units.
	// Nil fields pack empty dicts.
	Deps struct {
		// Context is the call-scoped state shared with the caller.
		Context *execctx.Dict
		// Functions is packed as __salt__.
		Functions *Loader
		// Utils is packed as __utils__.
		Utils *Loader
		// Proxy is packed as __proxy__.
		Proxy *Loader
	}
)

// ModuleDirs assembles the search directories of a registry for extType,
// highest priority first: module_dirs entries (newest first), the
// "<tag>_dirs" option, "<extension_modules>/<extType>" and finally the system
// directory.
func ModuleDirs(opts map[string]any, extType, tag string, o DirOptions) []string {
	if tag == "" {
		tag = extType
	}

	var cli []string
	for _, dir := range stringList(opts["module_dirs"]) {
		for _, candidate := range []string{filepath.Join(dir, extType), filepath.Join(dir, "_"+extType)} {
			if isDir(candidate) {
				cli = slices.Insert(cli, 0, candidate)
				break
			}
		}
	}

	var ext []string
	if !o.SkipExtDirs {
		key := o.ExtTypeDirs
		if key == "" {
			key = tag + "_dirs"
		}
		ext = stringList(opts[key])
	}

	dirs := append(cli, ext...)
	if root, _ := opts["extension_modules"].(string); root != "" {
		dirs = append(dirs, filepath.Join(root, extType))
	}
	if sys := systemDir(opts, extType, o); sys != "" {
		dirs = append(dirs, sys)
	}
	return dirs
}

func systemDir(opts map[string]any, extType string, o DirOptions) string {
	base := o.BasePath
	if base == "" {
		base, _ = opts["system_dir"].(string)
	}
	if base == "" {
		return ""
	}
	sub := o.IntType
	if sub == "" {
		sub = extType
	}
	return filepath.Join(base, sub)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (d Deps) pack(names ...string) map[string]any {
	pack := make(map[string]any, len(names))
	for _, name := range names {
		var v any
		switch name {
		case execctx.ContextSlot:
			if d.Context != nil {
				v = d.Context
			}
		case "__salt__":
			if d.Functions != nil {
				v = d.Functions
			}
		case "__utils__":
			if d.Utils != nil {
				v = d.Utils
			}
		case "__proxy__":
			if d.Proxy != nil {
				v = d.Proxy
			}
		}
		pack[name] = v
	}
	return pack
}

func factory(ctx context.Context, opts map[string]any, extType, tag string, o DirOptions, base []Option, extra []Option) (*Loader, error) {
	dirs := ModuleDirs(opts, extType, tag, o)
	if sys := systemDir(opts, extType, o); sys != "" {
		base = append(base, WithSystemDir(sys))
	}
	return New(ctx, dirs, opts, append(base, extra...)...)
}

// Modules builds the execution-function registry. Its units reach the
// registry itself through __salt__. Entries of the "providers" option
// replace a module's functions with those of another unit.
func Modules(ctx context.Context, opts map[string]any, deps Deps, options ...Option) (*Loader, error) {
	base := []Option{
		WithTag("module"),
		WithPack(deps.pack(execctx.ContextSlot, "__utils__", "__proxy__")),
		WithPackSelf("__salt__"),
	}
	if wl := stringList(opts["whitelist_modules"]); len(wl) > 0 {
		base = append(base, WithWhitelist(wl...))
	}
	if deps.Utils != nil {
		base = append(base, WithExtraDirs(deps.Utils.Dirs()...))
	}
	l, err := factory(ctx, opts, "modules", "module", DirOptions{}, base, options)
	if err != nil {
		return nil, err
	}

	providers, _ := opts["providers"].(map[string]any)
	for _, mod := range sortedNames(providers) {
		provider, ok := providers[mod].(string)
		if !ok {
			continue
		}
		funcs, err := RawModule(ctx, opts, provider, l)
		if err != nil {
			return nil, err
		}
		for key, fn := range funcs {
			fnName := key[strings.LastIndex(key, ".")+1:]
			if err := l.Set(mod+"."+fnName, fn); err != nil {
				return nil, err
			}
		}
	}
	return l, nil
}

// RawModule imports the single unit name without probing it and returns its
// function table. An unknown name yields an empty table.
func RawModule(ctx context.Context, opts map[string]any, name string, functions *Loader) (map[string]*Func, error) {
	l, err := factory(ctx, opts, "modules", "module", DirOptions{}, []Option{
		WithTag("rawmodule"),
		WithoutProbes(),
		WithPack(Deps{Functions: functions}.pack("__salt__")),
	}, nil)
	if err != nil {
		return nil, err
	}
	return l.Raw(ctx, name), nil
}

// Utils builds the utility registry. Utility units may re-export functions
// defined elsewhere.
func Utils(ctx context.Context, opts map[string]any, deps Deps, options ...Option) (*Loader, error) {
	return factory(ctx, opts, "utils", "utils", DirOptions{ExtTypeDirs: "utils_dirs"}, []Option{
		WithTag("utils"),
		WithPack(deps.pack(execctx.ContextSlot, "__proxy__")),
		WithForeignFunctions(),
	}, options)
}

// Returners builds the returner registry.
func Returners(ctx context.Context, opts map[string]any, deps Deps, options ...Option) (*Loader, error) {
	return factory(ctx, opts, "returners", "returner", DirOptions{}, []Option{
		WithTag("returner"),
		WithPack(deps.pack("__salt__", execctx.ContextSlot, "__proxy__")),
	}, options)
}

// Beacons builds the beacon registry. Beacons run no supplementary probes.
func Beacons(ctx context.Context, opts map[string]any, deps Deps, options ...Option) (*Loader, error) {
	return factory(ctx, opts, "beacons", "beacons", DirOptions{}, []Option{
		WithTag("beacons"),
		WithPack(deps.pack(execctx.ContextSlot, "__salt__", "__proxy__")),
		WithProbes(),
	}, options)
}

// Proxy builds the proxy registry. Its units must support the configured
// proxytype.
func Proxy(ctx context.Context, opts map[string]any, deps Deps, options ...Option) (*Loader, error) {
	return factory(ctx, opts, "proxy", "proxy", DirOptions{}, []Option{
		WithTag("proxy"),
		WithPack(deps.pack("__salt__", "__utils__", execctx.ContextSlot)),
		WithPackSelf("__proxy__"),
		WithRestrictedCheck(),
	}, options)
}

// Grains builds the facts registry. Its units must support the configured
// proxytype.
func Grains(ctx context.Context, opts map[string]any, deps Deps, options ...Option) (*Loader, error) {
	base := []Option{
		WithTag("grains"),
		WithPack(deps.pack("__utils__", execctx.ContextSlot)),
		WithRestrictedCheck(),
	}
	if deps.Utils != nil {
		base = append(base, WithExtraDirs(deps.Utils.Dirs()...))
	}
	return factory(ctx, opts, "grains", "grain", DirOptions{ExtTypeDirs: "grains_dirs"}, base, options)
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
