// SPDX-License-Identifier: MPL-2.0

package execctx

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type testHost struct {
	tag   string
	store *Store
}

func newTestHost(tag string) *testHost {
	s := NewStore()
	s.Set(OptsSlot, NewDict(map[string]any{"id": tag}))
	s.Set(ContextSlot, NewDict(nil))
	return &testHost{tag: tag, store: s}
}

func (h *testHost) Tag() string   { return h.tag }
func (h *testHost) Store() *Store { return h.store }

func TestCellDefaultWithoutActiveRegistry(t *testing.T) {
	t.Parallel()

	c := NewCell("__grains__", "fallback")
	v, err := c.Value(context.Background())
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != "fallback" {
		t.Errorf("Value() = %v, want fallback", v)
	}
	if Active(context.Background()) != nil {
		t.Error("Active() on a bare context should be nil")
	}
}

func TestEnterBindsAndRestores(t *testing.T) {
	t.Parallel()

	a := newTestHost("a")
	b := newTestHost("b")
	a.store.Set("__grains__", "grains-a")
	b.store.Set("__grains__", "grains-b")

	grains := NewCell("__grains__", nil)
	ctxA := Enter(context.Background(), a, nil)

	_, err := Run(ctxA, b, func(ctxB context.Context) (any, error) {
		if Active(ctxB) != b {
			t.Errorf("Active() inside b = %v, want b", Active(ctxB))
		}
		if got := Current(ctxB).ParentHost(); got != a {
			t.Errorf("ParentHost() = %v, want a", got)
		}
		v, err := grains.Value(ctxB)
		if err != nil || v != "grains-b" {
			t.Errorf("Value() inside b = %v, %v; want grains-b", v, err)
		}
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("Run() should return the callback error")
	}

	if Active(ctxA) != a {
		t.Fatal("a must stay active after nested call returns")
	}
	v, err := grains.Value(ctxA)
	if err != nil || v != "grains-a" {
		t.Errorf("Value() after nested call = %v, %v; want grains-a", v, err)
	}
}

func TestRunRestoresAfterPanic(t *testing.T) {
	t.Parallel()

	a := newTestHost("a")
	b := newTestHost("b")
	ctxA := Enter(context.Background(), a, nil)

	func() {
		defer func() { _ = recover() }()
		_, _ = Run(ctxA, b, func(context.Context) (int, error) {
			panic("abrupt")
		})
	}()

	if Active(ctxA) != a {
		t.Error("a must stay active after a panic in a nested call")
	}
}

func TestFrameDepthAndParent(t *testing.T) {
	t.Parallel()

	a := newTestHost("a")
	ctx1 := Enter(context.Background(), a, nil)
	ctx2 := Enter(ctx1, a, nil)

	if d := Current(ctx2).Depth(); d != 1 {
		t.Errorf("Depth() = %d, want 1", d)
	}
	if Current(ctx2).Parent() != Current(ctx1) {
		t.Error("Parent() should be the enclosing frame")
	}
	if Current(ctx2).ParentHost() != nil {
		t.Error("ParentHost() should skip frames of the same registry")
	}
}

func TestUnconfiguredContextKey(t *testing.T) {
	t.Parallel()

	h := newTestHost("module")
	ctx := Enter(context.Background(), h, nil)

	_, err := NewCell("__pillar__", nil).Value(ctx)
	if !errors.Is(err, ErrUnconfiguredContextKey) {
		t.Fatalf("Value() error = %v, want ErrUnconfiguredContextKey", err)
	}
	var ue *UnconfiguredError
	if !errors.As(err, &ue) || ue.Name != "__pillar__" || ue.Tag != "module" {
		t.Errorf("error = %#v, want name __pillar__ tag module", ue)
	}

	err = NewCell("__pillar__", nil).Set(ctx, 1)
	if !errors.Is(err, ErrUnconfiguredContextKey) {
		t.Errorf("Set() error = %v, want ErrUnconfiguredContextKey", err)
	}
}

func TestUniversalSlotsAlwaysResolve(t *testing.T) {
	t.Parallel()

	h := &testHost{tag: "bare", store: NewStore()}
	ctx := Enter(context.Background(), h, nil)

	for _, name := range []string{OptsSlot, ContextSlot} {
		if _, err := NewCell(name, nil).Value(ctx); err != nil {
			t.Errorf("Value(%s) error = %v", name, err)
		}
	}
}

func TestOverlayVisibleOnlyForCall(t *testing.T) {
	t.Parallel()

	h := newTestHost("module")
	base := Enter(context.Background(), h, nil)
	call := Enter(base, h, map[string]any{"__env__": "prod"})

	v, err := Lookup(call, "__env__")
	if err != nil || v != "prod" {
		t.Fatalf("Lookup() in call = %v, %v", v, err)
	}
	if _, err := Lookup(base, "__env__"); !errors.Is(err, ErrUnconfiguredContextKey) {
		t.Errorf("overlay leaked outside the call: %v", err)
	}
}

func TestSetWithoutActiveRegistry(t *testing.T) {
	t.Parallel()

	err := NewCell(ContextSlot, nil).Set(context.Background(), NewDict(nil))
	if !errors.Is(err, ErrNoActiveRegistry) {
		t.Errorf("Set() error = %v, want ErrNoActiveRegistry", err)
	}
}

func TestSharedDictAcrossCells(t *testing.T) {
	t.Parallel()

	h := newTestHost("module")
	ctx := Enter(context.Background(), h, nil)

	writer := NewCell(ContextSlot, nil)
	reader := NewCell(ContextSlot, nil)

	d, err := writer.Dict(ctx)
	if err != nil {
		t.Fatalf("Dict() error = %v", err)
	}
	d.Set("x", 1)

	d2, err := reader.Dict(ctx)
	if err != nil {
		t.Fatalf("Dict() error = %v", err)
	}
	if v, ok := d2.Get("x"); !ok || v != 1 {
		t.Errorf("Get(x) = %v, %v; want 1, true", v, ok)
	}

	other := Enter(context.Background(), newTestHost("other"), nil)
	d3, err := reader.Dict(other)
	if err != nil {
		t.Fatalf("Dict() error = %v", err)
	}
	if _, ok := d3.Get("x"); ok {
		t.Error("a different registry must not observe the write")
	}
}

func TestDictTypeMismatch(t *testing.T) {
	t.Parallel()

	h := newTestHost("module")
	h.store.Set("__grains__", "not a dict")
	ctx := Enter(context.Background(), h, nil)

	if _, err := NewCell("__grains__", nil).Dict(ctx); !errors.Is(err, ErrNotDict) {
		t.Errorf("Dict() error = %v, want ErrNotDict", err)
	}
}

func TestResolveChain(t *testing.T) {
	t.Parallel()

	h := newTestHost("module")
	h.store.Set("__inner__", "value")
	h.store.Set("__outer__", NewCell("__inner__", nil))
	ctx := Enter(context.Background(), h, nil)

	v, err := Resolve(ctx, NewCell("__outer__", nil))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if v != "value" {
		t.Errorf("Resolve() = %v, want value", v)
	}

	plain, err := Resolve(ctx, 42)
	if err != nil || plain != 42 {
		t.Errorf("Resolve(42) = %v, %v", plain, err)
	}
}

func TestConcurrentStacksAreIsolated(t *testing.T) {
	t.Parallel()

	hosts := []*testHost{newTestHost("a"), newTestHost("b"), newTestHost("c")}
	cell := NewCell(OptsSlot, nil)

	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := Enter(context.Background(), h, nil)
			for range 100 {
				d, err := cell.Dict(ctx)
				if err != nil {
					t.Errorf("Dict() error = %v", err)
					return
				}
				if id, _ := d.Get("id"); id != h.tag {
					t.Errorf("stack %s observed %v", h.tag, id)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDeepCopyDoesNotAlias(t *testing.T) {
	t.Parallel()

	src := map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"a"}}
	d := NewDict(src)
	src["nested"].(map[string]any)["k"] = "changed"

	v, _ := d.Get("nested")
	if v.(map[string]any)["k"] != "v" {
		t.Error("NewDict must deep copy its input")
	}
}
