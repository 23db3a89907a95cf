// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/modkit/modkit/internal/execctx"
)

const builtinScript = `
remember() {
	ctx_set __context__ "$1" "$2"
}

recall() {
	ctx_get __context__ "$1"
}

forget() {
	ctx_del __context__ "$1"
}

known() {
	ctx_keys __context__
}

option() {
	opts "$1"
}

grain() {
	grains "$1"
}

delegate() {
	mcall other.run "$@"
}

unconfigured() {
	ctx_get __salt__
}

misuse() {
	ctx_set __context__ only-key
}
`

func bindBuiltinUnit(t *testing.T) (*testHost, Unit, *recordingCaller) {
	t.Helper()

	host := newTestHost("test")
	caller := &recordingCaller{ret: "delegated"}
	host.store.Set(selfSlot, caller)
	host.store.Set("__grains__", map[string]any{"os": map[string]any{"family": "debian"}})

	ctx := execctx.Enter(t.Context(), host, nil)
	u := mustImportShell(t, ctx, builtinScript)
	u.Bind(Bindings{
		Opts: map[string]any{"timeout": 30, "nested": map[string]any{"key": "v"}},
		Cells: map[string]*execctx.Cell{
			execctx.ContextSlot: execctx.NewCell(execctx.ContextSlot, nil),
			"__grains__":        execctx.NewCell("__grains__", nil),
			selfSlot:            execctx.NewCell(selfSlot, nil),
		},
		Self: selfSlot,
	})
	return host, u, caller
}

func TestBuiltinContextState(t *testing.T) {
	t.Parallel()

	host, u, _ := bindBuiltinUnit(t)
	ctx := execctx.Enter(t.Context(), host, nil)

	mustCall(t, ctx, u, "remember", "color", "blue")
	mustCall(t, ctx, u, "remember", "size", "large")

	if got := mustCall(t, ctx, u, "recall", "color"); got != "blue" {
		t.Errorf("recall(color) = %q, want blue", got)
	}
	if got := mustCall(t, ctx, u, "known"); got != "color\nsize" {
		t.Errorf("known() = %q", got)
	}

	mustCall(t, ctx, u, "forget", "color")
	sym, _ := u.Func("recall")
	_, err := sym.Call(ctx, "color")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Status != 1 || !strings.Contains(exitErr.Stderr, "not found") {
		t.Errorf("recall(color) after delete error = %v", err)
	}
}

func TestBuiltinOptsAndFacts(t *testing.T) {
	t.Parallel()

	host, u, _ := bindBuiltinUnit(t)
	ctx := execctx.Enter(t.Context(), host, nil)

	tests := []struct {
		fn   string
		arg  string
		want string
	}{
		{fn: "option", arg: "timeout", want: "30"},
		{fn: "option", arg: "nested:key", want: "v"},
		{fn: "option", arg: "nested", want: `{"key":"v"}`},
		{fn: "grain", arg: "os:family", want: "debian"},
	}
	for _, tt := range tests {
		if got := mustCall(t, ctx, u, tt.fn, tt.arg); got != tt.want {
			t.Errorf("%s(%s) = %q, want %q", tt.fn, tt.arg, got, tt.want)
		}
	}
}

func TestBuiltinMcall(t *testing.T) {
	t.Parallel()

	host, u, caller := bindBuiltinUnit(t)
	ctx := execctx.Enter(t.Context(), host, nil)

	if got := mustCall(t, ctx, u, "delegate", "x", "y"); got != "delegated" {
		t.Errorf("delegate() = %q, want delegated", got)
	}
	if !slices.Equal(caller.keys, []string{"other.run"}) {
		t.Errorf("keys = %v", caller.keys)
	}
	if len(caller.args) != 1 || !slices.Equal(caller.args[0], []any{"x", "y"}) {
		t.Errorf("args = %v", caller.args)
	}
}

func TestBuiltinUnconfiguredIsFatal(t *testing.T) {
	t.Parallel()

	host, u, _ := bindBuiltinUnit(t)
	ctx := execctx.Enter(t.Context(), host, nil)

	sym, _ := u.Func("unconfigured")
	_, err := sym.Call(ctx)
	if !errors.Is(err, execctx.ErrUnconfiguredContextKey) {
		t.Errorf("error = %v, want ErrUnconfiguredContextKey", err)
	}
}

func TestBuiltinUsage(t *testing.T) {
	t.Parallel()

	host, u, _ := bindBuiltinUnit(t)
	ctx := execctx.Enter(t.Context(), host, nil)

	sym, _ := u.Func("misuse")
	_, err := sym.Call(ctx)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Status != 2 || !strings.Contains(exitErr.Stderr, "usage: ctx_set") {
		t.Errorf("misuse() error = %v", err)
	}
}

func TestBuiltinNames(t *testing.T) {
	t.Parallel()

	want := []string{"ctx_del", "ctx_get", "ctx_keys", "ctx_set", "grains", "mcall", "opts", "pillar"}
	if got := BuiltinNames(); !slices.Equal(got, want) {
		t.Errorf("BuiltinNames() = %v, want %v", got, want)
	}
}
