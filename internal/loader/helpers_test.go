// SPDX-License-Identifier: MPL-2.0

package loader

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/modkit/modkit/internal/unit"
)

type (
	// countingImporter records every import it performs.
	countingImporter struct {
		mu    sync.Mutex
		names []string
		next  Importer
	}

	// logBuffer collects log output for assertions.
	logBuffer struct {
		mu  sync.Mutex
		buf []byte
	}
)

func (c *countingImporter) Import(ctx context.Context, req ImportRequest) (unit.Unit, error) {
	c.mu.Lock()
	c.names = append(c.names, req.Entry.Name)
	c.mu.Unlock()
	return c.next.Import(ctx, req)
}

func (c *countingImporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func mustNew(t *testing.T, dirs []string, opts map[string]any, options ...Option) *Loader {
	t.Helper()
	options = append([]Option{WithLogger(quietLogger())}, options...)
	l, err := New(t.Context(), dirs, opts, options...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return l
}

func mustCall(t *testing.T, ctx context.Context, l *Loader, key string, args ...any) any {
	t.Helper()
	out, err := l.Call(ctx, key, args...)
	if err != nil {
		t.Fatalf("Call(%q) error: %v", key, err)
	}
	return out
}
