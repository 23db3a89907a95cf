// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/modkit/modkit/internal/execctx"
	"github.com/modkit/modkit/internal/index"
	"github.com/modkit/modkit/internal/issue"
	"github.com/modkit/modkit/internal/probe"
	"github.com/modkit/modkit/internal/unit"
)

const (
	// GrainsSlot names the facts cell.
	GrainsSlot = "__grains__"
	// PillarSlot names the configuration data cell.
	PillarSlot = "__pillar__"
)

type (
	// Loader is a lazily populated registry of "module.function" keys. Each
	// Loader owns its unit state; nothing is shared between instances
	// except what is passed in.
	Loader struct {
		id     string
		tag    string
		base   string
		dirs   []string
		opts   map[string]any
		logger *log.Logger

		store     *execctx.Store
		pack      map[string]any
		packNames []string
		packSelf  string

		whitelist      []string
		statics        map[string]*unit.Module
		staticOrder    []string
		virtualEnable  bool
		extraProbes    []string
		namespacedOnly bool
		restricted     bool
		inject         map[string]any
		extraDirs      []string
		suffixOrder    []string
		systemDir      string
		disabled       []string
		optOrder       []int
		importer       Importer

		// funcs holds *Func values. Reads of resolved keys never take mu.
		funcs sync.Map

		// mu guards everything below. It is held for index refreshes and
		// for every import/probe/register sequence.
		mu            sync.Mutex
		snap          *index.Snapshot
		loadedFiles   map[string]bool
		loadedModules map[string]bool
		missing       map[string]*Failure
		loaded        bool
	}
)

// New creates a registry over dirs, ordered highest priority first. opts is
// copied; its "grains" and "pillar" keys and every packed cell value are
// resolved through ctx so late-bound cells become concrete values.
func New(ctx context.Context, dirs []string, opts map[string]any, options ...Option) (*Loader, error) {
	l := &Loader{
		id:             uuid.NewString()[:8],
		tag:            "module",
		base:           DefaultBaseName,
		dirs:           slices.Clone(dirs),
		statics:        make(map[string]*unit.Module),
		virtualEnable:  true,
		namespacedOnly: true,
		suffixOrder:    slices.Clone(index.DefaultSuffixOrder),
		importer:       DefaultImporter,
		store:          execctx.NewStore(),
		loadedFiles:    make(map[string]bool),
		loadedModules:  make(map[string]bool),
		missing:        make(map[string]*Failure),
	}
	for _, opt := range options {
		opt(l)
	}
	if l.tag == "" {
		return nil, constructionError("", errors.New("loader tag must not be empty"))
	}

	copied, err := prepOpts(ctx, opts)
	if err != nil {
		return nil, constructionError(l.tag, err)
	}
	l.opts = copied

	if l.logger == nil {
		l.logger = newLogger(l.opts)
	}
	l.logger = l.logger.With("tag", l.tag, "loader", l.id)

	l.disabled = stringList(l.opts[l.disabledKey()])
	l.optOrder = intList(l.opts["optimization_order"])

	if err := l.packCells(ctx); err != nil {
		return nil, constructionError(l.tag, err)
	}

	l.mu.Lock()
	l.refresh()
	l.mu.Unlock()
	return l, nil
}

func constructionError(tag string, err error) error {
	return issue.NewErrorContext().
		WithOperation("build registry").
		WithResource(tag).
		WithSuggestion("Pass a non-empty tag with WithTag").
		WithSuggestion("Make sure late-bound grains, pillar and pack values resolve in the calling context").
		WithIssue(issue.RegistryConstructionFailedId).
		Wrap(err).
		BuildError()
}

func newLogger(opts map[string]any) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "modkit"})
	if s, ok := opts["log_level"].(string); ok && s != "" {
		if lvl, err := log.ParseLevel(s); err == nil {
			logger.SetLevel(lvl)
		}
	}
	return logger
}

// prepOpts deep-copies opts, resolving late-bound grains and pillar values.
func prepOpts(ctx context.Context, opts map[string]any) (map[string]any, error) {
	out, _ := execctx.DeepCopy(opts).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}
	for _, key := range []string{"grains", "pillar"} {
		v, ok := out[key]
		if !ok {
			continue
		}
		resolved, err := execctx.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve option %q: %w", key, err)
		}
		out[key] = resolved
	}
	delete(out, "logger")
	return out, nil
}

// packCells fills the store with every packed name.
func (l *Loader) packCells(ctx context.Context) error {
	set := func(name string, v any) {
		if !l.store.Has(name) {
			l.packNames = append(l.packNames, name)
		}
		l.store.Set(name, v)
	}

	set(execctx.OptsSlot, execctx.NewDict(l.opts))
	for _, slot := range []struct{ name, key string }{{GrainsSlot, "grains"}, {PillarSlot, "pillar"}} {
		if _, ok := l.pack[slot.name]; ok {
			continue
		}
		set(slot.name, dictValue(l.opts[slot.key]))
	}

	names := make([]string, 0, len(l.pack))
	for name := range l.pack {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v, err := execctx.Resolve(ctx, l.pack[name])
		if err != nil {
			return fmt.Errorf("resolve pack %q: %w", name, err)
		}
		set(name, dictValue(v))
	}
	if !l.store.Has(execctx.ContextSlot) {
		set(execctx.ContextSlot, execctx.NewDict(nil))
	}
	if l.packSelf != "" {
		set(l.packSelf, l)
	}
	return nil
}

// dictValue wraps maps into a *Dict and turns nil into an empty one.
func dictValue(v any) any {
	switch t := v.(type) {
	case nil:
		return execctx.NewDict(nil)
	case map[string]any:
		return execctx.NewDict(t)
	default:
		return v
	}
}

func (l *Loader) disabledKey() string {
	if strings.HasSuffix(l.tag, "s") {
		return "disable_" + l.tag
	}
	return "disable_" + l.tag + "s"
}

// Tag returns the registry domain label.
func (l *Loader) Tag() string {
	return l.tag
}

// Store returns the packed cell store.
func (l *Loader) Store() *execctx.Store {
	return l.store
}

// Opts returns a copy of the registry options.
func (l *Loader) Opts() map[string]any {
	return execctx.DeepCopy(l.opts).(map[string]any)
}

// Dirs returns the search directories.
func (l *Loader) Dirs() []string {
	return slices.Clone(l.dirs)
}

// String describes the registry.
func (l *Loader) String() string {
	return fmt.Sprintf("<Loader module='%s.%s'>", l.base, l.tag)
}

// refresh replaces the index. Must be called with mu held.
func (l *Loader) refresh() {
	l.snap = index.Refresh(index.Options{
		Dirs:              l.dirs,
		SuffixOrder:       l.suffixOrder,
		Disabled:          l.disabled,
		OptimizationOrder: l.optOrder,
		Statics:           l.staticOrder,
	})
	for _, d := range l.snap.Diagnostics {
		if d.Code == index.CodeCollision {
			l.logger.Error(d.Message, "code", d.Code, "path", d.Path)
			continue
		}
		l.logger.Warn(d.Message, "code", d.Code, "path", d.Path, "error", d.Cause)
	}
}

// snapshot returns the current index, refreshing it when a Clear dropped
// it. Must be called with mu held.
func (l *Loader) snapshot() *index.Snapshot {
	if l.snap == nil {
		l.refresh()
	}
	return l.snap
}

// namespace is the place of definition for a unit's own callables.
func (l *Loader) namespace(e index.Entry) string {
	return strings.Join([]string{l.base, l.modType(e.Path), l.tag, e.Name}, ".")
}

func (l *Loader) modType(path string) string {
	if l.systemDir == "" {
		return "ext"
	}
	rel, err := filepath.Rel(l.systemDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "ext"
	}
	return "int"
}

func (l *Loader) fail(f *Failure, names ...string) {
	for _, name := range names {
		l.missing[name] = f
	}
}

// loadUnit imports, binds, initializes, probes and registers one index
// entry. It reports whether the unit was registered. Must be called with mu
// held.
func (l *Loader) loadUnit(ctx context.Context, name string) bool {
	entry, ok := l.snapshot().Get(name)
	if !ok {
		return false
	}
	l.loadedFiles[name] = true
	logger := l.logger.With("unit", name)

	runCtx := execctx.Enter(ctx, l, nil)
	u, err := recovered(func() (unit.Unit, error) {
		return l.importer.Import(runCtx, ImportRequest{
			Entry:        entry,
			Namespace:    l.namespace(entry),
			Static:       l.statics[name],
			InitSuffixes: l.suffixOrder,
			Env:          l.unitEnv(),
		})
	})
	if err != nil {
		logger.Error("failed to import unit", "path", entry.Path, "error", err)
		l.fail(&Failure{Unit: name, Kind: ErrImportFailure, Reason: err.Error(), HasReason: true, Err: err}, name)
		return false
	}

	merged := u.Defaults()
	for k, v := range l.opts {
		merged[k] = execctx.DeepCopy(v)
	}
	u.Bind(unit.Bindings{
		Opts:      merged,
		Cells:     l.cellsFor(u),
		Self:      l.packSelf,
		ExtraDirs: slices.Clone(l.extraDirs),
	})

	if _, err := recovered(func() (struct{}, error) {
		return struct{}{}, u.Initialize(runCtx, merged)
	}); err != nil {
		logger.Debug("unit initializer failed", "error", err)
		l.fail(&Failure{Unit: name, Kind: ErrInitializerFailure, Reason: "__init__ failed", HasReason: true, Err: err}, name)
		return false
	}

	moduleName := name
	var aliases []string
	if l.virtualEnable {
		out := probe.Run(runCtx, u, name, probe.Options{
			Extra:  l.extraProbes,
			Logger: logger,
			Timer:  truthy(l.opts["virtual_timer"]),
		})
		switch o := out.(type) {
		case probe.Rejected:
			logger.Debug("unit rejected by probe", "reason", o.Reason)
			l.fail(&Failure{Unit: name, Kind: ErrProbeRejected, Reason: o.Reason, HasReason: o.HasReason}, name)
			return false
		case probe.Accepted:
			moduleName = o.Name
		}
		aliases, _ = unit.ListAttr(u, unit.AttrVirtualAliases)
	}

	if l.restricted {
		if r, ok := probe.CheckRestricted(u, l.restrictedMode()); !ok {
			l.fail(&Failure{Unit: moduleName, Kind: ErrProbeRejected, Reason: r.Reason, HasReason: true}, moduleName, name)
			return false
		}
	}

	l.export(u, name, append([]string{moduleName}, aliases...), logger)
	return true
}

// recovered calls fn, turning a panic into an error.
func recovered[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (l *Loader) unitEnv() []string {
	env := []string{"MODKIT_TAG=" + l.tag}
	if len(l.extraDirs) > 0 {
		env = append(env, "MODKIT_EXTRA_DIRS="+strings.Join(l.extraDirs, string(filepath.ListSeparator)))
	}
	return env
}

// cellsFor binds one cell per packed name, reusing placeholders the unit
// declared.
func (l *Loader) cellsFor(u unit.Unit) map[string]*execctx.Cell {
	cells := make(map[string]*execctx.Cell, len(l.packNames))
	for _, name := range l.packNames {
		if c, ok := u.Placeholder(name); ok {
			cells[name] = c
			continue
		}
		cells[name] = execctx.NewCell(name, nil)
	}
	return cells
}

func (l *Loader) restrictedMode() string {
	proxy, ok := l.opts["proxy"].(map[string]any)
	if !ok {
		return ""
	}
	mode, _ := proxy["proxytype"].(string)
	return mode
}

// export registers the unit's callables under every module name. The first
// writer of a key wins.
func (l *Loader) export(u unit.Unit, name string, modNames []string, logger *log.Logger) {
	names, source := exportNames(u)
	logger.Debug("loading functions", "source", source)

	funcAlias, _ := unit.MapAttr(u, unit.AttrFuncAlias)
	outputters, _ := unit.MapAttr(u, unit.AttrOutputter)

	for _, attr := range names {
		if strings.HasPrefix(attr, "_") {
			continue
		}
		sym, ok := u.Func(attr)
		if !ok {
			continue
		}
		if l.namespacedOnly && !strings.HasPrefix(sym.Origin, l.base) {
			continue
		}
		public := attr
		if alias, ok := funcAlias[attr]; ok {
			public = alias
		}
		for _, mod := range modNames {
			key := mod + "." + public
			f := &Func{
				Key:       key,
				Module:    mod,
				Name:      public,
				Unit:      name,
				Origin:    sym.Origin,
				Outputter: outputters[attr],
				call:      sym.Call,
				loader:    l,
			}
			if _, loaded := l.funcs.LoadOrStore(key, f); loaded {
				logger.Debug("duplicate key dropped", "key", key)
			}
			l.loadedModules[mod] = true
		}
	}
}

func exportNames(u unit.Unit) ([]string, string) {
	if names, ok := unit.ListAttr(u, unit.AttrLoad); ok {
		return names, unit.AttrLoad
	}
	if names, ok := unit.ListAttr(u, unit.AttrAll); ok {
		return names, unit.AttrAll
	}
	return u.Names(), "names"
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}

func intList(v any) []int {
	switch t := v.(type) {
	case []int:
		return slices.Clone(t)
	case []any:
		out := make([]int, 0, len(t))
		for _, e := range t {
			switch n := e.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	default:
		return nil
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "True" || t == "1"
	case int:
		return t != 0
	default:
		return false
	}
}
