// SPDX-License-Identifier: MPL-2.0

package unit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modkit/modkit/internal/execctx"
)

const selfSlot = "__self__"

type (
	testHost struct {
		tag   string
		store *execctx.Store
	}

	recordingCaller struct {
		keys []string
		args [][]any
		ret  any
	}
)

func newTestHost(tag string) *testHost {
	h := &testHost{tag: tag, store: execctx.NewStore()}
	h.store.Set(execctx.ContextSlot, execctx.NewDict(nil))
	h.store.Set(execctx.OptsSlot, execctx.NewDict(nil))
	return h
}

func (h *testHost) Tag() string            { return h.tag }
func (h *testHost) Store() *execctx.Store { return h.store }

func (c *recordingCaller) Call(_ context.Context, key string, args ...any) (any, error) {
	c.keys = append(c.keys, key)
	c.args = append(c.args, args)
	return c.ret, nil
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimLeft(body, "\n")), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func mustImportShell(t *testing.T, ctx context.Context, body string) Unit {
	t.Helper()
	path := writeScript(t, t.TempDir(), "svc.sh", body)
	u, err := ImportShell(ctx, path, ShellOptions{Namespace: "modkit.loaded.int.test.svc"})
	if err != nil {
		t.Fatalf("ImportShell() error: %v", err)
	}
	return u
}

func mustCall(t *testing.T, ctx context.Context, u Unit, fn string, args ...any) any {
	t.Helper()
	sym, ok := u.Func(fn)
	if !ok {
		t.Fatalf("Func(%q) not found", fn)
	}
	out, err := sym.Call(ctx, args...)
	if err != nil {
		t.Fatalf("%s() error: %v", fn, err)
	}
	return out
}
