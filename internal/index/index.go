// SPDX-License-Identifier: MPL-2.0

package index

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	// KindPackage is a directory with an __init__ entry point.
	KindPackage Kind = iota
	// KindSource is a single interpreted source file.
	KindSource
	// KindCompiled is a pre-processed artifact read from the cache directory.
	KindCompiled
	// KindExtension is a native shared object.
	KindExtension
	// KindStatic is an in-memory unit with no filesystem backing.
	KindStatic
)

const (
	// CacheDir is the search-directory subdirectory scanned for compiled
	// artifacts.
	CacheDir = "__cache__"

	initName = "__init__"
)

// optLevelPattern matches the optimization marker of compiled artifact
// names, e.g. the ".opt-2" in "svc.opt-2.shc".
var optLevelPattern = regexp.MustCompile(`\.opt-(\d+)$`)

// DefaultSuffixOrder ranks unit suffixes, highest precedence first. The empty
// suffix is the package directory.
var DefaultSuffixOrder = []string{"", ".sh", ".bash", ".shc", ".so"}

// DefaultOptimizationOrder ranks compile optimization levels, preferred first.
var DefaultOptimizationOrder = []int{0, 1, 2}

type (
	// Kind classifies an index entry.
	Kind int

	// Entry is the surviving candidate for one logical module name.
	Entry struct {
		// Name is the logical module name.
		Name string
		// Path is the absolute file or directory path, or the static name.
		Path string
		// Suffix is the matched suffix; empty for package directories.
		Suffix string
		Kind   Kind
		// OptIndex ranks compiled artifacts by position in the optimization
		// order. Lower is preferred.
		OptIndex int
		// InitPath is the entry point of a package directory.
		InitPath string
	}

	// Options control a refresh.
	Options struct {
		// Dirs are scanned in order, highest priority first.
		Dirs []string
		// SuffixOrder ranks acceptable suffixes; defaults to
		// DefaultSuffixOrder.
		SuffixOrder []string
		// Kinds overrides the kind of a suffix. Unlisted suffixes use
		// KindOf.
		Kinds map[string]Kind
		// ExcludePrefixes skip entries whose file name starts with any of
		// them; defaults to "_".
		ExcludePrefixes []string
		// Disabled skips logical names.
		Disabled []string
		// OptimizationOrder ranks compiled levels; levels not listed are
		// skipped. Defaults to DefaultOptimizationOrder.
		OptimizationOrder []int
		// Statics are merged after the scan and always win.
		Statics []string
	}

	// Snapshot is an immutable index. A refresh produces a new snapshot and
	// never patches an old one.
	Snapshot struct {
		entries     map[string]Entry
		order       []string
		Diagnostics []Diagnostic
	}

	scanner struct {
		opts     Options
		snap     *Snapshot
		disabled map[string]bool
	}
)

// String returns the kind label.
func (k Kind) String() string {
	switch k {
	case KindPackage:
		return "package"
	case KindSource:
		return "source"
	case KindCompiled:
		return "compiled"
	case KindExtension:
		return "extension"
	case KindStatic:
		return "static"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// KindOf returns the default kind for a suffix.
func KindOf(suffix string) Kind {
	switch suffix {
	case "":
		return KindPackage
	case ".shc":
		return KindCompiled
	case ".so":
		return KindExtension
	default:
		return KindSource
	}
}

// Refresh scans every directory and resolves one entry per logical name.
// Unreadable directories and entries are skipped; non-fatal problems are
// returned as diagnostics on the snapshot.
func Refresh(opts Options) *Snapshot {
	if opts.SuffixOrder == nil {
		opts.SuffixOrder = DefaultSuffixOrder
	}
	if opts.ExcludePrefixes == nil {
		opts.ExcludePrefixes = []string{"_"}
	}
	if opts.OptimizationOrder == nil {
		opts.OptimizationOrder = DefaultOptimizationOrder
	}

	s := &scanner{
		opts:     opts,
		snap:     &Snapshot{entries: make(map[string]Entry)},
		disabled: make(map[string]bool, len(opts.Disabled)),
	}
	for _, name := range opts.Disabled {
		s.disabled[name] = true
	}

	for _, dir := range opts.Dirs {
		s.scanDir(dir)
	}
	for _, name := range opts.Statics {
		s.put(Entry{Name: name, Path: name, Suffix: ".o", Kind: KindStatic})
	}
	return s.snap
}

func (s *scanner) scanDir(dir string) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	names, err := listSorted(absDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.warn(CodeScanFailed, absDir, err, "failed to list directory %s while indexing units: %v", absDir, err)
		}
		return
	}
	names = slices.DeleteFunc(names, func(n string) bool { return n == CacheDir })
	if cached, err := listSorted(filepath.Join(absDir, CacheDir)); err == nil {
		for _, n := range cached {
			names = append(names, filepath.Join(CacheDir, n))
		}
	}

	for _, rel := range names {
		s.consider(absDir, rel)
	}
}

func listSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// consider classifies one listing entry and applies the precedence rules.
func (s *scanner) consider(dir, rel string) {
	cacheDir, base := filepath.Split(rel)
	if s.excluded(base) {
		return
	}

	fpath := filepath.Join(dir, rel)
	info, err := os.Stat(fpath)
	if err != nil {
		return
	}

	var name, suffix string
	if info.IsDir() {
		name = base
	} else {
		suffix = filepath.Ext(base)
		if suffix == "" {
			return
		}
		name = strings.TrimSuffix(base, suffix)
	}
	if !slices.Contains(s.opts.SuffixOrder, suffix) {
		return
	}
	kind := s.kindOf(suffix)
	// Compiled artifacts are only trusted from the cache directory, and the
	// cache directory holds nothing else.
	if (kind == KindCompiled) != (cacheDir != "") {
		return
	}

	optLevel := 0
	if kind == KindCompiled {
		if m := optLevelPattern.FindStringSubmatch(name); m != nil {
			optLevel, _ = strconv.Atoi(m[1])
			name = strings.TrimSuffix(name, m[0])
		}
	}
	optIndex := slices.Index(s.opts.OptimizationOrder, optLevel)
	if optIndex < 0 {
		return
	}
	if name == "" || strings.Contains(name, ".") || s.disabled[name] {
		return
	}

	entry := Entry{Name: name, Path: fpath, Suffix: suffix, Kind: kind, OptIndex: optIndex}
	if kind == KindPackage {
		initPath, ok := s.entryPoint(fpath)
		if !ok {
			return
		}
		entry.InitPath = initPath
	}

	if cur, ok := s.snap.entries[name]; ok && !s.replaces(cur, entry) {
		return
	}
	s.put(entry)
}

// replaces reports whether cand should replace cur for the same name.
func (s *scanner) replaces(cur, cand Entry) bool {
	if (cur.Kind == KindPackage) != (cand.Kind == KindPackage) {
		s.warn(CodeCollision, cand.Path, nil, "unit/package collision: '%s' and '%s'", cand.Path, cur.Path)
		return false
	}
	if cur.Kind == KindCompiled && cand.Kind == KindCompiled {
		return cand.OptIndex < cur.OptIndex
	}
	return slices.Index(s.opts.SuffixOrder, cand.Suffix) < slices.Index(s.opts.SuffixOrder, cur.Suffix)
}

func (s *scanner) entryPoint(dir string) (string, bool) {
	names, err := listSorted(dir)
	if err != nil {
		s.warn(CodePackageScanFailed, dir, err, "failed to list package directory %s: %v", dir, err)
		return "", false
	}
	for _, suffix := range s.opts.SuffixOrder {
		if suffix == "" {
			continue
		}
		if slices.Contains(names, initName+suffix) {
			return filepath.Join(dir, initName+suffix), true
		}
	}
	return "", false
}

func (s *scanner) excluded(base string) bool {
	for _, p := range s.opts.ExcludePrefixes {
		if p != "" && strings.HasPrefix(base, p) {
			return true
		}
	}
	return false
}

func (s *scanner) kindOf(suffix string) Kind {
	if k, ok := s.opts.Kinds[suffix]; ok {
		return k
	}
	return KindOf(suffix)
}

// put inserts or replaces an entry. A replaced entry keeps its position.
func (s *scanner) put(e Entry) {
	if _, ok := s.snap.entries[e.Name]; !ok {
		s.snap.order = append(s.snap.order, e.Name)
	}
	s.snap.entries[e.Name] = e
}

func (s *scanner) warn(code, path string, cause error, format string, args ...any) {
	s.snap.Diagnostics = append(s.snap.Diagnostics, Diagnostic{
		Severity: SeverityWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Path:     path,
		Cause:    cause,
	})
}

// Get returns the entry for a logical name.
func (s *Snapshot) Get(name string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.entries[name]
	return e, ok
}

// Names returns every logical name in discovery order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Candidates yields logical names ordered by closeness to name: the exact
// match, then names containing name, then every other name. The sequence is
// finite and may be ranged over repeatedly.
func (s *Snapshot) Candidates(name string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if s == nil {
			return
		}
		if _, ok := s.entries[name]; ok {
			if !yield(name) {
				return
			}
		}
		for _, k := range s.order {
			if k != name && strings.Contains(k, name) {
				if !yield(k) {
					return
				}
			}
		}
		for _, k := range s.order {
			if !strings.Contains(k, name) {
				if !yield(k) {
					return
				}
			}
		}
	}
}
