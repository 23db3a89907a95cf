// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/modkit/modkit/internal/execctx"
)

const serviceScript = `
__virtualname__=svc
__all__=(greet fail)
declare -A __func_alias__=([list_]=list)
answer=42

greet() {
	echo "hello $1"
}

fail() {
	echo "boom" >&2
	return 3
}

list_() {
	echo "a b"
}

__virtual__() {
	echo true
}
`

func TestImportShellCollectsNames(t *testing.T) {
	t.Parallel()

	u := mustImportShell(t, t.Context(), serviceScript)

	if u.Name() != "svc" {
		t.Errorf("Name() = %q, want %q", u.Name(), "svc")
	}
	for _, name := range []string{"greet", "fail", "list_", "answer", ProbeName, AttrVirtualName} {
		if !slices.Contains(u.Names(), name) {
			t.Errorf("Names() missing %q: %v", name, u.Names())
		}
	}
	if _, ok := u.Func("answer"); ok {
		t.Error("Func(answer) should not be callable")
	}
	if v, ok := StringAttr(u, "answer"); !ok || v != "42" {
		t.Errorf("Attr(answer) = %q, %v", v, ok)
	}
	if v, _ := StringAttr(u, AttrVirtualName); v != "svc" {
		t.Errorf("virtualname = %q, want svc", v)
	}
	all, ok := ListAttr(u, AttrAll)
	if !ok || !slices.Equal(all, []string{"greet", "fail"}) {
		t.Errorf("__all__ = %v, %v", all, ok)
	}
	alias, ok := MapAttr(u, AttrFuncAlias)
	if !ok || alias["list_"] != "list" {
		t.Errorf("__func_alias__ = %v, %v", alias, ok)
	}
}

func TestShellCall(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	u := mustImportShell(t, ctx, serviceScript)

	if got := mustCall(t, ctx, u, "greet", "world"); got != "hello world" {
		t.Errorf("greet() = %q, want %q", got, "hello world")
	}
	// Arguments are quoted, so spaces and metacharacters survive.
	if got := mustCall(t, ctx, u, "greet", "a b; $x"); got != "hello a b; $x" {
		t.Errorf("greet() = %q", got)
	}

	sym, _ := u.Func("greet")
	if sym.Origin != "modkit.loaded.int.test.svc" {
		t.Errorf("Origin = %q", sym.Origin)
	}
}

func TestShellCallExitError(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	u := mustImportShell(t, ctx, serviceScript)

	sym, _ := u.Func("fail")
	_, err := sym.Call(ctx)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Call() error = %v, want *ExitError", err)
	}
	if exitErr.Status != 3 {
		t.Errorf("Status = %d, want 3", exitErr.Status)
	}
	if !strings.Contains(exitErr.Stderr, "boom") {
		t.Errorf("Stderr = %q", exitErr.Stderr)
	}
}

func TestShellCallsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	u := mustImportShell(t, ctx, `
counter=0
bump() {
	counter=$((counter + 1))
	echo "$counter"
}
`)
	for range 3 {
		if got := mustCall(t, ctx, u, "bump"); got != "1" {
			t.Fatalf("bump() = %q, want 1", got)
		}
	}
}

func TestImportShellFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		target error
		substr string
	}{
		{name: "syntax", body: "f() {\n", substr: "parse"},
		{name: "exit", body: "exit 4\n", target: ErrExitDuringImport},
		{name: "failing top level", body: "false\n", substr: "exit status 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeScript(t, t.TempDir(), "bad.sh", tt.body)
			_, err := ImportShell(t.Context(), path, ShellOptions{})
			if err == nil {
				t.Fatal("ImportShell() expected error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
			if tt.substr != "" && !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error = %v, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestShellProbeValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want any
	}{
		{name: "true", body: "echo true", want: true},
		{name: "python true", body: "echo True", want: true},
		{name: "false", body: "echo false", want: false},
		{name: "empty", body: ":", want: nil},
		{name: "rename", body: "echo other", want: "other"},
		{name: "reason", body: "echo 'missing binary'; return 1", want: ProbeResult{Reason: "missing binary"}},
		{name: "stderr reason", body: "echo 'no access' >&2; return 1", want: ProbeResult{Reason: "no access"}},
		{name: "bare failure", body: "return 1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			u := mustImportShell(t, ctx, "__virtual__() {\n"+tt.body+"\n}\n")
			probe, ok := u.Probe(ProbeName)
			if !ok {
				t.Fatal("Probe() not found")
			}
			got, err := probe(ctx)
			if err != nil {
				t.Fatalf("probe error: %v", err)
			}
			if got != tt.want {
				t.Errorf("probe = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestShellInitialize(t *testing.T) {
	t.Parallel()

	host := newTestHost("test")
	ctx := execctx.Enter(t.Context(), host, nil)
	u := mustImportShell(t, ctx, `
__init__() {
	ctx_set __context__ initialized yes
}
`)
	if err := u.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	state, _ := host.store.Get(execctx.ContextSlot)
	if v, _ := state.(*execctx.Dict).Get("initialized"); v != "yes" {
		t.Errorf("initialized = %v, want yes", v)
	}
}

func TestShellImportRunsUnderContext(t *testing.T) {
	t.Parallel()

	ctx := context.WithoutCancel(t.Context())
	path := writeScript(t, t.TempDir(), "env.sh", `
unit_name="$MODKIT_UNIT"
unit_ns="$MODKIT_NAMESPACE"
extra="$EXTRA"
`)
	u, err := ImportShell(ctx, path, ShellOptions{Name: "envy", Namespace: "ns.envy", Env: []string{"EXTRA=1"}})
	if err != nil {
		t.Fatalf("ImportShell() error: %v", err)
	}
	for name, want := range map[string]string{"unit_name": "envy", "unit_ns": "ns.envy", "extra": "1"} {
		if got, _ := StringAttr(u, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}
