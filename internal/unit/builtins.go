// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/modkit/modkit/internal/execctx"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
)

type (
	// builtin is a command script units can run without leaving the
	// interpreter.
	builtin struct {
		name  string
		usage string
		run   func(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error
	}

	// builtinRegistry manages the available builtins.
	builtinRegistry struct {
		mu       sync.RWMutex
		commands map[string]builtin
	}

	snapshotKey struct{}

	snapshotRequest struct {
		names []string
		into  map[string]any
	}
)

var builtins = newBuiltinRegistry()

func init() {
	builtins.register(builtin{name: "ctx_get", usage: "ctx_get CELL [KEY]", run: runCtxGet})
	builtins.register(builtin{name: "ctx_set", usage: "ctx_set CELL KEY VALUE", run: runCtxSet})
	builtins.register(builtin{name: "ctx_del", usage: "ctx_del CELL KEY", run: runCtxDel})
	builtins.register(builtin{name: "ctx_keys", usage: "ctx_keys CELL", run: runCtxKeys})
	builtins.register(builtin{name: "opts", usage: "opts KEY", run: runOpts})
	builtins.register(builtin{name: "grains", usage: "grains KEY", run: factLookup("__grains__")})
	builtins.register(builtin{name: "pillar", usage: "pillar KEY", run: factLookup("__pillar__")})
	builtins.register(builtin{name: "mcall", usage: "mcall KEY [ARGS...]", run: runMcall})
}

func newBuiltinRegistry() *builtinRegistry {
	return &builtinRegistry{commands: make(map[string]builtin)}
}

// register adds a builtin. It panics if a builtin with the same name is
// already registered.
func (r *builtinRegistry) register(b builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[b.name]; exists {
		panic(fmt.Sprintf("builtin %q already registered", b.name))
	}
	r.commands[b.name] = b
}

func (r *builtinRegistry) lookup(name string) (builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.commands[name]
	return b, ok
}

// BuiltinNames returns the script builtins in sorted order.
func BuiltinNames() []string {
	builtins.mu.RLock()
	defer builtins.mu.RUnlock()
	return slices.Sorted(maps.Keys(builtins.commands))
}

// execHandler intercepts builtins before falling back to external programs.
func (u *shellUnit) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return next(ctx, args)
		}
		if args[0] == snapshotCommand {
			return runSnapshot(ctx)
		}
		b, ok := builtins.lookup(args[0])
		if !ok {
			return next(ctx, args)
		}
		return b.run(ctx, interp.HandlerCtx(ctx), u, args[1:])
	}
}

func withSnapshot(ctx context.Context, names []string, into map[string]any) context.Context {
	return context.WithValue(ctx, snapshotKey{}, &snapshotRequest{names: names, into: into})
}

func runSnapshot(ctx context.Context) error {
	req, ok := ctx.Value(snapshotKey{}).(*snapshotRequest)
	if !ok {
		return nil
	}
	hc := interp.HandlerCtx(ctx)
	for _, name := range req.names {
		vr := hc.Env.Get(name)
		if !vr.Set {
			continue
		}
		switch vr.Kind {
		case expand.Indexed:
			req.into[name] = slices.Clone(vr.List)
		case expand.Associative:
			req.into[name] = maps.Clone(vr.Map)
		default:
			req.into[name] = vr.Str
		}
	}
	return nil
}

func usageError(hc interp.HandlerContext, b string) error {
	cmd, _ := builtins.lookup(b)
	fmt.Fprintf(hc.Stderr, "usage: %s\n", cmd.usage)
	return interp.ExitStatus(2)
}

func notFound(hc interp.HandlerContext, b, what string) error {
	fmt.Fprintf(hc.Stderr, "%s: %s not found\n", b, what)
	return interp.ExitStatus(1)
}

// runCtxGet prints a cell value, or one key of a dict-valued cell.
// Unconfigured cells are fatal to the running call.
func runCtxGet(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError(hc, "ctx_get")
	}
	v, err := u.cell(args[0]).Value(ctx)
	if err != nil {
		return err
	}
	if len(args) == 2 {
		var ok bool
		if v, ok = Traverse(v, args[1]); !ok {
			return notFound(hc, "ctx_get", fmt.Sprintf("key %q in %s", args[1], args[0]))
		}
	}
	fmt.Fprintln(hc.Stdout, FormatValue(v))
	return nil
}

func runCtxSet(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
	if len(args) != 3 {
		return usageError(hc, "ctx_set")
	}
	d, err := u.cell(args[0]).Dict(ctx)
	if err != nil {
		return err
	}
	d.Set(args[1], args[2])
	return nil
}

func runCtxDel(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
	if len(args) != 2 {
		return usageError(hc, "ctx_del")
	}
	d, err := u.cell(args[0]).Dict(ctx)
	if err != nil {
		return err
	}
	if !d.Delete(args[1]) {
		return notFound(hc, "ctx_del", fmt.Sprintf("key %q in %s", args[1], args[0]))
	}
	return nil
}

func runCtxKeys(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
	if len(args) != 1 {
		return usageError(hc, "ctx_keys")
	}
	d, err := u.cell(args[0]).Dict(ctx)
	if err != nil {
		return err
	}
	for _, k := range d.Keys() {
		fmt.Fprintln(hc.Stdout, k)
	}
	return nil
}

// runOpts reads the unit-local merged configuration.
func runOpts(_ context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
	if len(args) != 1 {
		return usageError(hc, "opts")
	}
	v, ok := u.opt(args[0])
	if !ok {
		return notFound(hc, "opts", fmt.Sprintf("option %q", args[0]))
	}
	fmt.Fprintln(hc.Stdout, FormatValue(v))
	return nil
}

func factLookup(cell string) func(context.Context, interp.HandlerContext, *shellUnit, []string) error {
	name := strings.Trim(cell, "_")
	return func(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
		if len(args) != 1 {
			return usageError(hc, name)
		}
		v, err := u.cell(cell).Value(ctx)
		if err != nil {
			return err
		}
		if v, err = execctx.Resolve(ctx, v); err != nil {
			return err
		}
		got, ok := Traverse(v, args[0])
		if !ok {
			return notFound(hc, name, fmt.Sprintf("key %q", args[0]))
		}
		fmt.Fprintln(hc.Stdout, FormatValue(got))
		return nil
	}
}

// runMcall calls another function of the owning registry and prints its
// result.
func runMcall(ctx context.Context, hc interp.HandlerContext, u *shellUnit, args []string) error {
	if len(args) < 1 {
		return usageError(hc, "mcall")
	}
	callArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		callArgs = append(callArgs, a)
	}
	out, err := callSelf(ctx, u.self(), args[0], callArgs...)
	if err != nil {
		fmt.Fprintf(hc.Stderr, "mcall: %v\n", err)
		return interp.ExitStatus(1)
	}
	if s := FormatValue(out); s != "" {
		fmt.Fprintln(hc.Stdout, s)
	}
	return nil
}
