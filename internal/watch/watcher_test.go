// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func startWatcher(t *testing.T, cfg Config) (context.CancelFunc, <-chan error) {
	t.Helper()

	cfg.Logger = quietLogger()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	return cancel, errCh
}

func TestWatcherCoalescesBurst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	calls := make(chan []string, 10)

	cancel, errCh := startWatcher(t, Config{
		Dirs:     []string{dir},
		Debounce: 100 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			calls <- changed
			return nil
		},
	})
	defer cancel()

	for _, name := range []string{"a.sh", "b.sh", "c.sh"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("f() { :; }\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var changed []string
	select {
	case changed = <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	time.Sleep(250 * time.Millisecond)
	if extra := len(calls); extra != 0 {
		t.Errorf("expected one callback, got %d more", extra)
	}

	for _, name := range []string{"a.sh", "b.sh", "c.sh"} {
		if !slices.Contains(changed, filepath.Join(dir, name)) {
			t.Errorf("changed = %v, missing %s", changed, name)
		}
	}
	if !slices.IsSorted(changed) {
		t.Errorf("changed = %v, want sorted", changed)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestWatcherMultipleDirs(t *testing.T) {
	t.Parallel()

	first, second := t.TempDir(), t.TempDir()
	calls := make(chan []string, 10)

	cancel, _ := startWatcher(t, Config{
		Dirs:     []string{first, filepath.Join(first, "missing"), second},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			calls <- changed
			return nil
		},
	})
	defer cancel()

	target := filepath.Join(second, "svc.sh")
	if err := os.WriteFile(target, []byte("run() { :; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case changed := <-calls:
		if !slices.Contains(changed, target) {
			t.Errorf("changed = %v, want %s", changed, target)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestWatcherPatternFiltering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	calls := make(chan []string, 10)

	cancel, _ := startWatcher(t, Config{
		Dirs:     []string{dir},
		Patterns: PatternsForSuffixes([]string{".sh"}),
		Ignore:   []string{"**/*.tmp"},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			calls <- changed
			return nil
		},
	})
	defer cancel()

	for _, name := range []string{"notes.txt", "draft.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case changed := <-calls:
		t.Fatalf("unexpected callback for %v", changed)
	case <-time.After(300 * time.Millisecond):
	}

	if err := os.WriteFile(filepath.Join(dir, "svc.sh"), []byte(":\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case changed := <-calls:
		if len(changed) != 1 || filepath.Base(changed[0]) != "svc.sh" {
			t.Errorf("changed = %v, want only svc.sh", changed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestWatcherContextCancel(t *testing.T) {
	t.Parallel()

	cancel, errCh := startWatcher(t, Config{Dirs: []string{t.TempDir()}})
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcherDoubleRun(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dirs: []string{t.TempDir()}, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
	cancel()
	<-errCh
}

func TestNewInvalidPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "watch", cfg: Config{Patterns: []string{"[unclosed"}}},
		{name: "ignore", cfg: Config{Ignore: []string{"[unclosed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.cfg.Logger = quietLogger()
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() succeeded, want pattern error")
			}
		})
	}
}

func TestPatternsForSuffixes(t *testing.T) {
	t.Parallel()

	got := PatternsForSuffixes([]string{"", ".sh", ".shc"})
	want := []string{"*/**", "*", "*.sh", "__cache__/*.sh", "*.shc", "__cache__/*.shc"}
	if !slices.Equal(got, want) {
		t.Errorf("PatternsForSuffixes() = %v, want %v", got, want)
	}
}

func TestWatcherRelevant(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := New(Config{
		Dirs:     []string{dir},
		Patterns: PatternsForSuffixes([]string{".sh", ".shc"}),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.fsw.Close() })

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "svc.sh"), true},
		{filepath.Join(dir, "__cache__", "svc.opt-1.shc"), true},
		{filepath.Join(dir, "svc.sh.swp"), false},
		{filepath.Join(dir, ".git", "HEAD"), false},
		{filepath.Join(dir, "README"), false},
		{filepath.Join(filepath.Dir(dir), "elsewhere.sh"), false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDefaultIgnores(t *testing.T) {
	t.Parallel()

	got := DefaultIgnores()
	got[0] = "mutated"
	if DefaultIgnores()[0] == "mutated" {
		t.Error("DefaultIgnores() returned the package slice")
	}
}
