// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/modkit/modkit/internal/execctx"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// snapshotCommand is run after a script unit is sourced to capture its
// top-level variables.
const snapshotCommand = "__modkit_snapshot__"

// metadataNames are always captured from script units, declared or not.
var metadataNames = []string{
	AttrVirtualName,
	AttrVirtualAliases,
	AttrFuncAlias,
	AttrLoad,
	AttrAll,
	AttrProxyEnabled,
	AttrOutputter,
}

type (
	// ShellOptions configure a script unit import.
	ShellOptions struct {
		// Name is the declared unit name. Defaults to the file name without
		// its suffix.
		Name string
		// Namespace is the place of definition of the unit's functions.
		Namespace string
		// Dir is the interpreter working directory. Defaults to the script's
		// directory.
		Dir string
		// Env holds KEY=VALUE entries added to the process environment.
		Env []string
	}

	// shellUnit is a script interpreted in-process. Its top-level functions
	// are callables and its top-level variables are attributes.
	shellUnit struct {
		name string
		path string
		ns   string

		names   []string
		funcSet map[string]bool
		attrs   map[string]any

		runMu  sync.Mutex
		runner *interp.Runner

		mu       sync.RWMutex
		bindings Bindings
	}
)

// ImportShell parses and sources the script at path. Sourcing runs the
// script's top-level code under ctx, so the importing registry should be
// active in ctx.
func ImportShell(ctx context.Context, path string, opts ShellOptions) (Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit: %w", err)
	}
	return importShellSource(ctx, path, data, opts)
}

func importShellSource(ctx context.Context, path string, data []byte, opts ShellOptions) (Unit, error) {
	file, err := syntax.NewParser().Parse(bytes.NewReader(data), path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	if abs, absErr := filepath.Abs(dir); absErr == nil {
		dir = abs
	}

	u := &shellUnit{
		name:    name,
		path:    path,
		ns:      opts.Namespace,
		funcSet: make(map[string]bool),
		attrs:   make(map[string]any),
	}
	varNames := u.collectNames(file)

	env := append(os.Environ(), "MODKIT_UNIT="+name, "MODKIT_NAMESPACE="+opts.Namespace)
	env = append(env, opts.Env...)

	var stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, io.Discard, &stderr),
		interp.ExecHandlers(u.execHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create interpreter: %w", err)
	}

	runErr := runner.Run(ctx, file)
	if runner.Exited() {
		return nil, fmt.Errorf("%w: %s", ErrExitDuringImport, importDetail(runErr, &stderr))
	}
	if runErr != nil {
		return nil, fmt.Errorf("failed to source unit: %s", importDetail(runErr, &stderr))
	}

	snap, err := syntax.NewParser().Parse(strings.NewReader(snapshotCommand), path)
	if err != nil {
		return nil, fmt.Errorf("internal error: %w", err)
	}
	wanted := append(slices.Clone(metadataNames), varNames...)
	if err := runner.Run(withSnapshot(ctx, wanted, u.attrs), snap); err != nil {
		return nil, fmt.Errorf("failed to read unit attributes: %w", err)
	}

	u.runner = runner
	return u, nil
}

func importDetail(err error, stderr *bytes.Buffer) string {
	var parts []string
	var status interp.ExitStatus
	switch {
	case errors.As(err, &status):
		parts = append(parts, fmt.Sprintf("exit status %d", int(status)))
	case err != nil:
		parts = append(parts, err.Error())
	default:
		parts = append(parts, "exit status 0")
	}
	if s := strings.TrimSpace(stderr.String()); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ": ")
}

// collectNames records the file's top-level functions and returns the names
// of its top-level variable assignments.
func (u *shellUnit) collectNames(file *syntax.File) []string {
	var vars []string
	seen := make(map[string]bool)
	add := func(name string, fn bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		u.names = append(u.names, name)
		if fn {
			u.funcSet[name] = true
		} else {
			vars = append(vars, name)
		}
	}
	for _, stmt := range file.Stmts {
		switch cmd := stmt.Cmd.(type) {
		case *syntax.FuncDecl:
			add(cmd.Name.Value, true)
		case *syntax.CallExpr:
			if len(cmd.Args) == 0 {
				for _, as := range cmd.Assigns {
					add(as.Name.Value, false)
				}
			}
		case *syntax.DeclClause:
			for _, as := range cmd.Args {
				if as.Name != nil {
					add(as.Name.Value, false)
				}
			}
		}
	}
	return vars
}

func (u *shellUnit) Name() string      { return u.name }
func (u *shellUnit) Path() string      { return u.path }
func (u *shellUnit) Namespace() string { return u.ns }

func (u *shellUnit) Names() []string {
	return slices.Clone(u.names)
}

func (u *shellUnit) Attr(name string) (any, bool) {
	v, ok := u.attrs[name]
	if !ok {
		return nil, false
	}
	return execctx.DeepCopy(v), true
}

func (u *shellUnit) Func(name string) (*Symbol, bool) {
	if !u.funcSet[name] {
		return nil, false
	}
	return &Symbol{
		Name:   name,
		Origin: u.ns,
		Call: func(ctx context.Context, args ...any) (any, error) {
			return u.call(ctx, name, args)
		},
	}, true
}

func (u *shellUnit) Probe(name string) (ProbeCallable, bool) {
	if !u.funcSet[name] {
		return nil, false
	}
	return func(ctx context.Context) (any, error) {
		out, err := u.call(ctx, name, nil)
		text, _ := out.(string)
		return probeValue(text, err)
	}, true
}

// Placeholder is always empty: scripts resolve cells by name.
func (u *shellUnit) Placeholder(string) (*execctx.Cell, bool) {
	return nil, false
}

// Defaults is always empty: scripts carry no configuration of their own.
func (u *shellUnit) Defaults() map[string]any {
	return map[string]any{}
}

func (u *shellUnit) Bind(b Bindings) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bindings = b
}

func (u *shellUnit) Initialize(ctx context.Context, _ map[string]any) error {
	if !u.funcSet[InitName] {
		return nil
	}
	_, err := u.call(ctx, InitName, nil)
	return err
}

func (u *shellUnit) cell(name string) *execctx.Cell {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if c, ok := u.bindings.Cells[name]; ok {
		return c
	}
	return execctx.NewCell(name, nil)
}

func (u *shellUnit) opt(path string) (any, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return Traverse(u.bindings.Opts, path)
}

func (u *shellUnit) self() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.bindings.Self
}

// call runs fn on a subshell of the sourced interpreter. Standard output,
// minus one trailing newline, is the result.
func (u *shellUnit) call(ctx context.Context, fn string, args []any) (any, error) {
	words := make([]string, 0, len(args)+1)
	words = append(words, fn)
	for _, arg := range args {
		quoted, err := syntax.Quote(FormatValue(arg), syntax.LangBash)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: quote argument: %w", u.name, fn, err)
		}
		words = append(words, quoted)
	}
	prog, err := syntax.NewParser().Parse(strings.NewReader(strings.Join(words, " ")), u.path)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", u.name, fn, err)
	}

	u.runMu.Lock()
	sub := u.runner.Subshell()
	u.runMu.Unlock()

	var stdout, stderr bytes.Buffer
	if err := interp.StdIO(nil, &stdout, &stderr)(sub); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", u.name, fn, err)
	}

	if err := sub.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return stdout.String(), &ExitError{Unit: u.name, Func: fn, Status: int(status), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("%s.%s: %w", u.name, fn, err)
	}
	return strings.TrimSuffix(stdout.String(), "\n"), nil
}
